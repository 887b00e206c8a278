package domain

import "fmt"

// ThreadPrompt builds the generation prompt used for ad-hoc threads about
// subject.
func ThreadPrompt(subject string) string {
	return fmt.Sprintf("Write a casual, concise explanation of %s. Focus on how it gives people more control "+
		"and helps keep the internet open. Use only lowercase letters, no line breaks and no hashtags, "+
		"and finish with a question that invites readers to reply.", subject)
}

// TitleFromPrompt derives a post title from the first 50 characters of a
// generation prompt.
func TitleFromPrompt(prompt string) string {
	runes := []rune(prompt)
	if len(runes) > 50 {
		runes = runes[:50]
	}
	return string(runes)
}
