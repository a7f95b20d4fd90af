package agent

import (
	"fmt"
	"strings"

	"keygate-sdk/internal/knowledge"
)

// ChatInstructions 是交互模式的默认指令。
const ChatInstructions = `You are an AI assistant that helps users manage their ICP wallet. You can:
1. Check wallet balance
2. Get wallet address
3. Process transactions

Always be helpful and security-conscious when handling financial operations.
If asked about cryptocurrency prices or market data, explain that you don't have access to real-time market data.`

// AutonomousInstructions 是自主模式的默认指令。
const AutonomousInstructions = `You run unattended on a schedule. On every check:
1. Check the wallet balance
2. Report the wallet address when asked
3. Never execute a transaction unless the instructions explicitly name a recipient and amount

Keep each report to one or two sentences.`

const callConvention = `To execute a function, respond with XML tags like this:
<function>function_name</function>

For example:
<function>get_balance</function>

If the function takes arguments, add them as JSON right after the tag:
<function>execute_transaction</function>
<arguments>{"recipient_address": "<account id>", "amount": 1.5}</arguments>

Only call one function at a time. If no function needs to be called, respond normally. If you can't do something, say so and be concise and straight to the point. Don't talk more than necessary.`

func buildSystemPrompt(name, instructions string, snippets []knowledge.Snippet) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, an AI agent with an ICP wallet.\n", name)
	b.WriteString(strings.TrimSpace(instructions))
	b.WriteString("\n\n")
	b.WriteString(formatFunctions())
	if notes := formatSnippets(snippets); notes != "" {
		b.WriteString(notes)
		b.WriteString("\n")
	}
	b.WriteString(callConvention)
	b.WriteString("\n")
	return b.String()
}

func formatSnippets(snippets []knowledge.Snippet) string {
	var b strings.Builder
	for _, s := range snippets {
		title := strings.TrimSpace(s.Title)
		content := strings.TrimSpace(s.Content)
		if title == "" && content == "" {
			continue
		}
		if b.Len() == 0 {
			b.WriteString("Reference notes:\n")
		}
		switch {
		case title == "":
			fmt.Fprintf(&b, "- %s\n", content)
		case content == "":
			fmt.Fprintf(&b, "- %s\n", title)
		default:
			fmt.Fprintf(&b, "- %s: %s\n", title, content)
		}
	}
	return b.String()
}
