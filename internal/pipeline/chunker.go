// Package pipeline 定义了文章语料入库的核心流程。
package pipeline

import "strings"

// 分块参数与原始语料管线一致：目标块长 2000 字符，相邻块重叠约 300 字符。
const (
	defaultChunkSize    = 2000
	defaultChunkOverlap = 300
)

// splitArticle 把文章正文按句子边界切分为若干块。
// 句子在 ". " / "? " / "! " 处断开；块在句子边界处收口，尽量不超过
// chunkSize；下一块从上一块末尾回退约 overlap 字符的句子处开始，
// 使相邻块有上下文重叠。单句超长时独立成块，不在句中硬切。
func splitArticle(content string, chunkSize, overlap int) []string {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = defaultChunkOverlap
	}

	sentences := splitSentences(content)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []string
	var current []string
	currentLen := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, strings.TrimSpace(strings.Join(current, " ")))
		// 回退末尾句子作为下一块的重叠前缀
		carried := make([]string, 0, len(current))
		carriedLen := 0
		for i := len(current) - 1; i >= 0; i-- {
			if carriedLen+len(current[i]) > overlap {
				break
			}
			carried = append([]string{current[i]}, carried...)
			carriedLen += len(current[i]) + 1
		}
		current = carried
		currentLen = carriedLen
	}

	for _, sentence := range sentences {
		if currentLen > 0 && currentLen+len(sentence) > chunkSize {
			flush()
		}
		current = append(current, sentence)
		currentLen += len(sentence) + 1
	}
	if len(current) > 0 {
		// 末块若只剩重叠前缀则并入上一块，避免产出纯重复的尾块
		tail := strings.TrimSpace(strings.Join(current, " "))
		if len(chunks) == 0 || !strings.HasSuffix(chunks[len(chunks)-1], tail) {
			chunks = append(chunks, tail)
		}
	}
	return chunks
}

// splitSentences 在句末标点后的空格处切分，保留标点。
func splitSentences(content string) []string {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	var sentences []string
	start := 0
	runes := []rune(content)
	for i := 0; i < len(runes)-1; i++ {
		c := runes[i]
		if (c == '.' || c == '?' || c == '!') && runes[i+1] == ' ' {
			s := strings.TrimSpace(string(runes[start : i+1]))
			if s != "" {
				sentences = append(sentences, s)
			}
			start = i + 1
		}
	}
	if rest := strings.TrimSpace(string(runes[start:])); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}
