package domain

import "testing"

func TestPriceSeries_Eviction(t *testing.T) {
	s := NewPriceSeries(300)

	for i := 1; i <= 301; i++ {
		evicted := s.Append(float64(i))
		if i <= 300 && evicted {
			t.Fatalf("sample %d should not evict", i)
		}
		if i == 301 && !evicted {
			t.Fatal("sample 301 should evict the oldest")
		}
	}

	if s.Len() != 300 {
		t.Errorf("Expected length 300, got %d", s.Len())
	}
	values := s.Values()
	if values[0] != 2 {
		t.Errorf("Expected oldest sample 2 after eviction, got %v", values[0])
	}
	if last, _ := s.Last(); last != 301 {
		t.Errorf("Expected last 301, got %v", last)
	}
}

func TestPriceSeries_Empty(t *testing.T) {
	s := NewPriceSeries(3)
	if _, ok := s.Last(); ok {
		t.Error("Empty series should report no last value")
	}
}

func TestPair_Validate(t *testing.T) {
	if err := NewPair("BTC", "EUR", 25000, 0.03).Validate(); err != nil {
		t.Errorf("Expected valid pair, got %v", err)
	}

	bad := []Pair{
		NewPair("BTC", "BTC", 1, 0.1),
		NewPair("BTC", "EUR", 0, 0.1),
		NewPair("BTC", "EUR", 1, -0.1),
		{ID: "X", Base: "BTC", Quote: "EUR", InitialPrice: 1},
	}
	for _, p := range bad {
		if p.Validate() == nil {
			t.Errorf("Expected %+v to be invalid", p)
		}
	}
}
