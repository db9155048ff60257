package pipeline

// BookmarkEntry は平坦化したしおりの1項目です。
// 文書順に並び、階層は Level だけで表します。Level と Page は0始まりです。
type BookmarkEntry struct {
	Level int    `json:"level"`
	Title string `json:"title"`
	Page  int    `json:"page"`
}

// RemapBookmarks は元のページ p が start-1 <= p < end を満たす項目だけを残し、
// 範囲 [start,end] 内の1始まりのページ p-(start-1)+1 に振り直します。
// 順序と階層は保たれ、入力は変更しません。
func RemapBookmarks(entries []BookmarkEntry, start, end int) []BookmarkEntry {
	offset := start - 1
	out := make([]BookmarkEntry, 0, len(entries))
	for _, e := range entries {
		if e.Page < offset || e.Page >= end {
			continue
		}
		out = append(out, BookmarkEntry{
			Level: e.Level,
			Title: e.Title,
			Page:  e.Page - offset + 1,
		})
	}
	return out
}
