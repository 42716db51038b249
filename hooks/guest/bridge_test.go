package guest

import "testing"

func TestTable_DispatchesToRegisteredFuncs(t *testing.T) {
	var called bool
	table := Table{
		WaitAndBeginFrame: func() {
			called = true
		},
	}

	err := table.Dispatch(CallWaitAndBeginFrame, &Args{})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if !called {
		t.Errorf("Dispatch(CallWaitAndBeginFrame) did not call the registered func")
	}
}

func TestTable_QueuePresentInterceptPassesHandle(t *testing.T) {
	var gotHandle uintptr
	table := Table{
		QueuePresentIntercept: func(h uintptr) {
			gotHandle = h
		},
	}

	err := table.Dispatch(CallQueuePresentIntercept, &Args{DeviceHandle: 42})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if gotHandle != 42 {
		t.Errorf("got handle=%d, want 42", gotHandle)
	}
}

func TestTable_UnimplementedCallErrors(t *testing.T) {
	var table Table
	if err := table.Dispatch(CallSetTargetFrameTime, &Args{}); err == nil {
		t.Errorf("Dispatch() with nil SetTargetFrameTime should error")
	}
}

func TestTable_UnknownCodeErrors(t *testing.T) {
	var table Table
	if err := table.Dispatch(CallCode(99), &Args{}); err == nil {
		t.Errorf("Dispatch() with an unknown call code should error")
	}
}
