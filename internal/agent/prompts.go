package agent

import "strings"

const greeting = "Hello! How can I help you today?"

const chatbotInstructions = `You are a friendly and helpful conversational assistant.
Answer clearly and concisely. Keep a natural tone and stay consistent with the conversation so far.

Conversation so far:
{conversation_context}

Current message: {current_message}

Respond to the current message.`

const mathSystemPrompt = `You are a helpful math assistant. You can solve mathematical problems and calculations.

For mathematical expressions and calculations, use the calculator_tool to ensure accuracy. The calculator can handle:
- Basic arithmetic (+, -, *, /, **)
- Mathematical functions (sqrt, sin, cos, tan, log, etc.)
- Constants like pi and e
- Complex expressions with parentheses

For non-computational math questions (like explaining concepts), you can respond directly without using tools.

Always explain your approach when solving problems, and show the calculation steps clearly.`

const mcpSystemPrompt = `You are a helpful assistant with access to various tools.
Use the appropriate tools to help users with their requests.`

func formatChatbotPrompt(context, current string) string {
	return strings.NewReplacer(
		"{conversation_context}", context,
		"{current_message}", current,
	).Replace(chatbotInstructions)
}
