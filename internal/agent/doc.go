// Package agent implements a small chat agent on top of the wallet service.
// A language model reads the user's message, optionally names one of four
// wallet functions using a <function>name</function> tag, and the agent
// dispatches it through a closed lookup table before asking the model to
// phrase the result. The package also contains the balance monitor and the
// fixed-interval loop used by the autonomous mode.
package agent
