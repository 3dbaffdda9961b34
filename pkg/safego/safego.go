package safego

import (
	"context"
	"runtime/debug"

	"github.com/hatcher/kbchat/pkg/logs"
)

// Recovery 捕获panic
func Recovery(ctx context.Context) {
	e := recover()
	if e == nil {
		return
	}
	logs.Errorf("[Recovery] cache panic error = %v \n stacktrace = \n%s", e, string(debug.Stack()))
}

// Go 安全的go, 捕获panic
func Go(ctx context.Context, f func()) {
	go func() {
		defer Recovery(ctx)
		f()
	}()
}
