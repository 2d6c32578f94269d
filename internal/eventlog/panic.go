package eventlog

import "fmt"

type panicError struct{ v any }

func (p panicError) Error() string { return fmt.Sprintf("event sink panicked: %v", p.v) }
