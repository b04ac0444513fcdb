package monitoring

import "testing"

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) { called = true })
	Logf("message")
	if !called {
		t.Error("custom logger was not called")
	}

	// nil installs a no-op logger that must not panic
	SetLogger(nil)
	Logf("message after nil")

	called = false
	SetLogger(func(format string, v ...interface{}) { called = true })
	SetLogger(nil)
	Logf("message")
	if called {
		t.Error("no-op logger must not invoke the previous logger")
	}
}
