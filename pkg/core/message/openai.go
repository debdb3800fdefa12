package message

import (
	openai "github.com/sashabaranov/go-openai"
)

// ToOpenAI 转换消息格式到 OpenAI 格式，
// 便于调用方将组装好的 Prompt 交给 OpenAI 兼容的客户端。
func ToOpenAI(msgs []Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, msg := range msgs {
		chatMsg := openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		if msg.Name != "" {
			chatMsg.Name = msg.Name
		}
		result = append(result, chatMsg)
	}
	return result
}

// FromOpenAI 将 OpenAI 消息转换回内部格式，未知角色的消息会被跳过
func FromOpenAI(msgs []openai.ChatCompletionMessage) []Message {
	result := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		role, ok := ParseRole(m.Role)
		if !ok {
			continue
		}
		result = append(result, Message{Role: role, Content: m.Content, Name: m.Name})
	}
	return result
}
