// Package metricsutil publishes expvar variables without panicking when a
// name is registered twice, which happens when several stores or controllers
// share a process (and in tests).
package metricsutil

import (
	"expvar"
	"fmt"
)

// IntFunc returns a constructor for *expvar.Int values: published globally
// when publish is true, private otherwise.
func IntFunc(publish bool) func(name string) *expvar.Int {
	if !publish {
		return func(string) *expvar.Int { return new(expvar.Int) }
	}
	return PublishInt
}

// FloatFunc is the *expvar.Float counterpart of IntFunc.
func FloatFunc(publish bool) func(name string) *expvar.Float {
	if !publish {
		return func(string) *expvar.Float { return new(expvar.Float) }
	}
	return PublishFloat
}

// PublishInt publishes an expvar.Int, resetting and reusing an existing one.
func PublishInt(name string) *expvar.Int {
	v := expvar.Get(name)
	if v == nil {
		return expvar.NewInt(name)
	}
	if iv, ok := v.(*expvar.Int); ok {
		iv.Set(0)
		return iv
	}
	panic(fmt.Sprintf("expvar: trying to publish Int %s but variable already exists with different type %T", name, v))
}

// PublishFloat publishes an expvar.Float, resetting and reusing an existing one.
func PublishFloat(name string) *expvar.Float {
	v := expvar.Get(name)
	if v == nil {
		return expvar.NewFloat(name)
	}
	if fv, ok := v.(*expvar.Float); ok {
		fv.Set(0)
		return fv
	}
	panic(fmt.Sprintf("expvar: trying to publish Float %s but variable already exists with different type %T", name, v))
}

// PublishFunc publishes f under name unless the name is already taken.
func PublishFunc(name string, f func() interface{}) {
	if expvar.Get(name) != nil {
		return
	}
	expvar.Publish(name, expvar.Func(f))
}
