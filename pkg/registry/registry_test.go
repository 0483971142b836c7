package registry

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
)

type testItem struct {
	ID   string
	Name string
}

func TestBaseRegistry_Register(t *testing.T) {
	registry := NewBaseRegistry[testItem]()

	tests := []struct {
		name    string
		item    testItem
		wantErr error
	}{
		{"register valid item", testItem{ID: "test-1", Name: "Test Item 1"}, nil},
		{"register item with empty name", testItem{Name: "Test Item"}, ErrEmptyName},
		{"register duplicate item", testItem{ID: "test-1", Name: "Test Item 2"}, ErrAlreadyExists},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := registry.Register(tt.item.ID, tt.item)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Register() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	item, ok := registry.Get("test-1")
	if !ok || item.Name != "Test Item 1" {
		t.Errorf("Get() = %+v, %v; duplicate must not overwrite", item, ok)
	}
}

func TestBaseRegistry_OrderAndRemove(t *testing.T) {
	registry := NewBaseRegistry[int]()
	for i, name := range []string{"c", "a", "b"} {
		if err := registry.Register(name, i); err != nil {
			t.Fatal(err)
		}
	}

	if got := registry.Names(); !reflect.DeepEqual(got, []string{"c", "a", "b"}) {
		t.Errorf("Names() = %v", got)
	}
	if got := registry.List(); !reflect.DeepEqual(got, []int{0, 1, 2}) {
		t.Errorf("List() = %v", got)
	}

	if err := registry.Remove("a"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := registry.Remove("a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Remove() error = %v", err)
	}
	if got := registry.Names(); !reflect.DeepEqual(got, []string{"c", "b"}) {
		t.Errorf("Names() after remove = %v", got)
	}
	if registry.Count() != 2 {
		t.Errorf("Count() = %d", registry.Count())
	}
}

func TestBaseRegistry_Concurrent(t *testing.T) {
	registry := NewBaseRegistry[int]()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = registry.Register(fmt.Sprintf("item-%d", i), i)
			registry.List()
		}(i)
	}
	wg.Wait()

	if registry.Count() != 50 {
		t.Errorf("Count() = %d, want 50", registry.Count())
	}
}
