package probe

// Option configures NewPlatform.
type Option func(*platformOptions)

type platformOptions struct {
	mainThread func(f func())
}

// WithMainThread hands calls that must run on the process's main thread to
// call, which runs f there and returns once f has. On macOS the keyboard
// input source services are main-thread only; other platforms ignore it.
func WithMainThread(call func(f func())) Option {
	return func(o *platformOptions) { o.mainThread = call }
}

func collectOptions(opts []Option) platformOptions {
	var o platformOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// onMainThread runs f through the configured main-thread caller, or inline
// when there is none.
func (o platformOptions) onMainThread(f func()) {
	if o.mainThread == nil {
		f()
		return
	}
	o.mainThread(f)
}
