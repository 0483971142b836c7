package observability

// Span names.
const (
	SpanChatTurn      = "agent.turn"
	SpanLLMRequest    = "agent.llm_request"
	SpanToolExecution = "agent.tool_execution"
	SpanRetrieval     = "agent.retrieval"
	SpanIngest        = "agent.ingest"
	SpanHTTPRequest   = "http.request"
)

// Attribute keys.
const (
	AttrThreadID        = "agent.thread_id"
	AttrOutcome         = "agent.outcome"
	AttrIterations      = "agent.iterations"
	AttrLLMProvider     = "llm.provider"
	AttrLLMModel        = "llm.model"
	AttrLLMAttempt      = "llm.attempt"
	AttrLLMTokensInput  = "llm.tokens.input"
	AttrLLMTokensOutput = "llm.tokens.output"
	AttrToolName        = "tool.name"
	AttrToolStep        = "tool.step"
	AttrToolSuccess     = "tool.success"
	AttrHTTPMethod      = "http.method"
	AttrHTTPRoute       = "http.route"
	AttrHTTPStatusCode  = "http.status_code"
)

const DefaultServiceName = "reagent"
