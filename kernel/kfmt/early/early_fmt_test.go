package early

import "testing"

type bufSink struct {
	buf []byte
}

func (s *bufSink) WriteByte(b byte) { s.buf = append(s.buf, b) }
func (s *bufSink) Write(p []byte)   { s.buf = append(s.buf, p...) }

func TestPrintf(t *testing.T) {
	specs := []struct {
		format string
		args   []interface{}
		exp    string
	}{
		{"no args", nil, "no args"},
		{"%s", []interface{}{"hello"}, "hello"},
		{"%5s", []interface{}{"hi"}, "   hi"},
		{"%d", []interface{}{42}, "42"},
		{"%x", []interface{}{uint32(255)}, "0xff"},
		{"%o", []interface{}{8}, "10"},
		{"%t", []interface{}{true}, "true"},
		{"%t", []interface{}{false}, "false"},
		{"%c", []interface{}{byte('x')}, "x"},
		{"%%", nil, "%"},
		{"%d", nil, "(MISSING)"},
		{"%d", []interface{}{"bad"}, "%!(WRONGTYPE)"},
		{"%d %d", []interface{}{1, 2, 3}, "1 2%!(EXTRA)"},
	}

	for _, spec := range specs {
		sink := &bufSink{}
		prevActive := ActiveSink
		ActiveSink = sink
		Printf(spec.format, spec.args...)
		ActiveSink = prevActive

		if got := string(sink.buf); got != spec.exp {
			t.Errorf("Printf(%q, %v) = %q; want %q", spec.format, spec.args, got, spec.exp)
		}
	}
}

func TestSetSinksRoutesMAndS(t *testing.T) {
	m, s := &bufSink{}, &bufSink{}
	SetSinks(m, s)

	Mprintf("m:%s", "hi")
	Sprintf("s:%s", "lo")

	if string(m.buf) != "m:hi" {
		t.Fatalf("Mprintf wrote %q to wrong sink", m.buf)
	}
	if string(s.buf) != "s:lo" {
		t.Fatalf("Sprintf wrote %q to wrong sink", s.buf)
	}
}
