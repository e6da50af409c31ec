// Relay exposes browser-only chat backends (ChatGPT, DeepSeek, HuggingChat,
// TheB.AI) behind one OpenAI-compatible HTTP API.
//
// Usage:
//
//	# Start the relay with default configuration
//	relay run
//
//	# Start with a custom configuration file
//	relay run --config /etc/relay/config.yaml
//
//	# Check a configuration file without starting
//	relay validate --config config.yaml
//
//	# Solve a sentinel challenge offline
//	relay pow solve --seed 0.42 --difficulty 0fffff
//
//	# Inspect or prune the attachment cache
//	relay cache list --output json
//	relay cache prune
package main

func main() {
	Execute()
}
