/*Package scan composes independently configured axes into one ordered,
cancellable Cartesian traversal.

A Step is one unit of work invoked with the running Frame.  A Combinator
wraps an inner Step into an outer Step; stacking combinators builds the
nested loops of a multi-dimensional scan.  Chain holds combinators in
outer-to-inner order: the first element is the slowest varying loop.

	chain := scan.Chain{scan.Rounds(2), scan.Sweep("delay", delays, move), scan.Sweep("wl", wls, move)}
	step := chain.Build(acquire)
	step(scan.NewFrame(ctx, token, log.Printf))

Cancellation is polled through the Frame's Token before every inner Step
invocation made by any combinator in this package: each sweep point, each
background/signal branch, and each round.  Cancelling after k leaf calls
have completed therefore results in exactly k leaf calls.
*/
package scan
