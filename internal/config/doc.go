// Package config loads the JSON configuration shared by the Keygate command
// line tools and the keygated daemon. Relative paths are resolved against the
// directory of the configuration file, "~" is expanded, and secrets such as
// LLM API keys are read from the environment, optionally seeded from a
// .env.local file.
package config
