/*
Package dsl provides a Go builder for assembling dialog-language sources
programmatically.

It is useful for tests and for hosts that generate flows at runtime. The
builder renders plain source text, so everything it produces goes through
the same parser and compiler as hand-written files.

Example usage:

	b := dsl.New("greetings.co")
	b.User("greeting", "hi", "hello")
	b.Bot("greeting", "Hello there!")

	b.Flow("greet").
		User("greeting").
		Bot("greeting").
		ExecuteInto("profile", "lookup_user", dsl.Arg("id", "$user_id")).
		Say("Welcome back, $profile.name!")

	loader, err := b.Build()
	// ... pass loader to guardrail.New(...)
*/
package dsl
