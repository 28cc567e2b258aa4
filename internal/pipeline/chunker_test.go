package pipeline

import (
	"fmt"
	"strings"
	"testing"
)

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{"empty", "", nil},
		{"single sentence", "Just one sentence.", []string{"Just one sentence."}},
		{
			"three terminators",
			"First. Second? Third! Tail without period",
			[]string{"First.", "Second?", "Third!", "Tail without period"},
		},
		{
			"period without space does not split",
			"Version 2.5 shipped. Done.",
			[]string{"Version 2.5 shipped.", "Done."},
		},
		{
			"keeps punctuation",
			"Really? Yes.",
			[]string{"Really?", "Yes."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitSentences(tt.content)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d sentences %v, want %d", len(got), got, len(tt.want))
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("sentence[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSplitArticleShortContentSingleChunk(t *testing.T) {
	content := "A short article. It fits in one chunk."
	chunks := splitArticle(content, 2000, 300)
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(chunks))
	}
	if chunks[0] != content {
		t.Errorf("chunk = %q, want original content", chunks[0])
	}
}

func TestSplitArticleEmptyContent(t *testing.T) {
	if chunks := splitArticle("   ", 2000, 300); chunks != nil {
		t.Fatalf("blank content must produce no chunks, got %v", chunks)
	}
}

func TestSplitArticleRespectsChunkSize(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 100; i++ {
		fmt.Fprintf(&b, "Sentence number %d carries a fixed amount of filler text. ", i)
	}
	chunks := splitArticle(b.String(), 500, 100)

	if len(chunks) < 2 {
		t.Fatalf("long article must split into multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		// 块在句子边界收口，允许少量超出
		if len(c) > 500+120 {
			t.Errorf("chunk[%d] length = %d, far exceeds target size", i, len(c))
		}
		if !strings.HasSuffix(c, ".") && i < len(chunks)-1 {
			t.Errorf("chunk[%d] must end on a sentence boundary: %q", i, c[len(c)-20:])
		}
	}
}

func TestSplitArticleAdjacentChunksOverlap(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 50; i++ {
		fmt.Fprintf(&b, "Overlap marker sentence %02d. ", i)
	}
	chunks := splitArticle(b.String(), 300, 80)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1]
		// 后块的开头句子必须出现在前块末尾
		firstSentence := strings.SplitAfter(chunks[i], ". ")[0]
		firstSentence = strings.TrimSpace(firstSentence)
		if !strings.Contains(prev, firstSentence) {
			t.Errorf("chunk[%d] does not overlap with its predecessor: %q not in %q tail", i, firstSentence, prev)
		}
	}
}

func TestSplitArticleOversizedSentenceStandsAlone(t *testing.T) {
	huge := strings.Repeat("x", 900)
	content := "Lead in. " + huge + ". Follow up."
	chunks := splitArticle(content, 300, 50)

	found := false
	for _, c := range chunks {
		if strings.Contains(c, huge) {
			found = true
		}
	}
	if !found {
		t.Fatal("oversized sentence must survive splitting intact")
	}
}

func TestSplitArticleNoContentLost(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&b, "Unique marker %03d here. ", i)
	}
	chunks := splitArticle(b.String(), 250, 60)
	joined := strings.Join(chunks, " ")
	for i := 0; i < 40; i++ {
		marker := fmt.Sprintf("Unique marker %03d here.", i)
		if !strings.Contains(joined, marker) {
			t.Errorf("marker %q missing from chunks", marker)
		}
	}
}
