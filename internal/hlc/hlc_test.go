package hlc

import "testing"

func TestNowMonotonicWithinSameMillis(t *testing.T) {
	c := New("node-a")
	c.nowFn = func() int64 { return 1000 }

	first := c.Now()
	second := c.Now()

	if !Less(first, second) {
		t.Fatalf("expected %q < %q", first, second)
	}
}

func TestNowAdvancesOnNewPhysicalTime(t *testing.T) {
	millis := int64(1000)
	c := New("node-a")
	c.nowFn = func() int64 { return millis }

	first := c.Now()
	millis = 2000
	second := c.Now()

	p1, _ := Parse(first)
	p2, _ := Parse(second)
	if p2.Millis != 2000 || p2.Counter != 0 {
		t.Fatalf("expected reset counter at new physical time, got %+v", p2)
	}
	if p1.Millis != 1000 {
		t.Fatalf("expected first millis 1000, got %d", p1.Millis)
	}
}

func TestUpdatePrefersLargerMillis(t *testing.T) {
	c := New("node-a")
	c.nowFn = func() int64 { return 1000 }

	remote := format(5000, 3, "node-b")
	ts, err := c.Update(remote)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	p, _ := Parse(ts)
	if p.Millis != 5000 || p.Counter != 4 {
		t.Fatalf("expected millis=5000 counter=4, got %+v", p)
	}
}

func TestUpdateBreaksTiesByIncrementingMax(t *testing.T) {
	c := New("node-a")
	c.nowFn = func() int64 { return 1000 }
	c.millis = 1000
	c.counter = 7

	remote := format(1000, 3, "node-b")
	ts, err := c.Update(remote)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	p, _ := Parse(ts)
	if p.Millis != 1000 || p.Counter != 8 {
		t.Fatalf("expected millis=1000 counter=8, got %+v", p)
	}
}

func TestLexicalOrderMatchesFieldOrder(t *testing.T) {
	a := format(1000, 1, "a")
	b := format(1000, 2, "a")
	c := format(1001, 0, "a")

	if !Less(a, b) {
		t.Fatalf("expected %q < %q", a, b)
	}
	if !Less(b, c) {
		t.Fatalf("expected %q < %q", b, c)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	if _, err := Parse("not-a-timestamp"); err == nil {
		t.Fatal("expected error for malformed timestamp")
	}
}
