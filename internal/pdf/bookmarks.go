package pdf

import (
	"context"
	"errors"
	"fmt"
	"os"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"

	"github.com/Exigent-Mind-Factory/OCRonDemand/internal/pipeline"
)

// ExtractBookmarks は元文書のしおりを文書順にフラット化して返します。
// ページと階層は0始まりです。しおりが無い、または読み取れない場合は空のスライスを返します。
func (s *Service) ExtractBookmarks(ctx context.Context, path string) []pipeline.BookmarkEntry {
	entries := []pipeline.BookmarkEntry{}
	if ctx != nil && ctx.Err() != nil {
		return entries
	}
	f, err := os.Open(path)
	if err != nil {
		s.logger.Warn("failed to open document for bookmarks", "path", path, "error", err)
		return entries
	}
	defer f.Close()

	bms, err := pdfapi.Bookmarks(f, newConf())
	if err != nil {
		s.logger.Debug("no bookmarks extracted", "path", path, "error", err)
		return entries
	}
	return flattenBookmarks(entries, bms, 0)
}

func flattenBookmarks(out []pipeline.BookmarkEntry, bms []pdfcpu.Bookmark, level int) []pipeline.BookmarkEntry {
	for _, bm := range bms {
		page := bm.PageFrom - 1
		if page < 0 {
			page = 0
		}
		out = append(out, pipeline.BookmarkEntry{Level: level, Title: bm.Title, Page: page})
		out = flattenBookmarks(out, bm.Kids, level+1)
	}
	return out
}

// AttachBookmarks は entries からしおりツリーを再構築し、documentPath の文書に書き込みます。
// entries のページは1始まりです。結果は一時ファイルに書き出してから documentPath へ置き換えます。
func (s *Service) AttachBookmarks(ctx context.Context, documentPath string, entries []pipeline.BookmarkEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	tree, err := buildBookmarkTree(entries)
	if err != nil {
		return err
	}

	tmp := pipeline.BookmarkedOutputPath(documentPath)
	if err := pdfapi.AddBookmarksFile(documentPath, tmp, tree, true, newConf()); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write bookmarks: %w", err)
	}
	if err := os.Rename(tmp, documentPath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace document: %w", err)
	}
	s.logger.Debug("bookmarks attached", "path", documentPath, "count", len(entries))
	return nil
}

type bookmarkNode struct {
	level int
	bm    pdfcpu.Bookmark
	kids  []*bookmarkNode
}

// buildBookmarkTree は各項目を直前のより浅い階層の項目の子として配置します。
func buildBookmarkTree(entries []pipeline.BookmarkEntry) ([]pdfcpu.Bookmark, error) {
	var roots []*bookmarkNode
	var stack []*bookmarkNode
	for _, e := range entries {
		if e.Page < 1 {
			return nil, errors.New("bookmark page must be 1-based")
		}
		node := &bookmarkNode{level: e.Level, bm: pdfcpu.Bookmark{Title: e.Title, PageFrom: e.Page}}
		for len(stack) > 0 && stack[len(stack)-1].level >= e.Level {
			stack = stack[:len(stack)-1]
		}
		if len(stack) == 0 {
			roots = append(roots, node)
		} else {
			parent := stack[len(stack)-1]
			parent.kids = append(parent.kids, node)
		}
		stack = append(stack, node)
	}
	return toBookmarks(roots), nil
}

func toBookmarks(nodes []*bookmarkNode) []pdfcpu.Bookmark {
	if len(nodes) == 0 {
		return nil
	}
	out := make([]pdfcpu.Bookmark, 0, len(nodes))
	for _, n := range nodes {
		bm := n.bm
		bm.Kids = toBookmarks(n.kids)
		out = append(out, bm)
	}
	return out
}
