package registry

import (
	"strings"
	"testing"

	"github.com/starford/kitd/internal/models"
)

func snippetMeta(key string, text bool) *models.ScriptMetadata {
	return &models.ScriptMetadata{Triggers: models.Triggers{Snippet: key}, IsTextSnippet: text}
}

func TestSnippets_RegisterAndMatch(t *testing.T) {
	logger, _ := testLogger()
	r := NewSnippets(nil, logger)

	_ = r.Register("/a.js", snippetMeta(",,", false))
	_ = r.Register("/b.js", snippetMeta(",,,", false))
	_ = r.Register("/sig.txt", snippetMeta("*sig;", true))

	got := r.Match("x,,")
	if len(got) != 1 || got[0].FilePath != "/a.js" {
		t.Errorf("Match(x,,) = %+v", got)
	}
	got = r.Match("x,,,")
	if len(got) != 2 || got[0].TriggerKey != ",," || got[1].TriggerKey != ",,," {
		t.Errorf("Match(x,,,) = %+v", got)
	}
	got = r.Match("best sig;")
	if len(got) != 1 || !got[0].IsPostfix || !got[0].IsTextSnippet || got[0].TriggerKey != "sig;" {
		t.Errorf("Match(sig;) = %+v", got)
	}
}

func TestSnippets_ReregisterReplacesKey(t *testing.T) {
	logger, _ := testLogger()
	r := NewSnippets(nil, logger)

	_ = r.Register("/a.js", snippetMeta("foo", false))
	_ = r.Register("/a.js", snippetMeta("bar", false))

	if got := r.Match("xfoo"); len(got) != 0 {
		t.Errorf("old key still matches: %+v", got)
	}
	if got := r.Match("xbar"); len(got) != 1 {
		t.Errorf("new key does not match: %+v", got)
	}
	if len(r.List()) != 1 {
		t.Errorf("list = %v", r.List())
	}

	_ = r.Register("/a.js", snippetMeta("", false))
	if r.Has("/a.js") || len(r.Match("xbar")) != 0 {
		t.Error("removing the header should drop the snippet")
	}
}

func TestSnippets_RejectShortKeys(t *testing.T) {
	logger, buf := testLogger()
	r := NewSnippets(nil, logger)

	_ = r.Register("/a.js", snippetMeta("x", false))
	_ = r.Register("/b.js", snippetMeta("*y", false))
	if r.Has("/a.js") || r.Has("/b.js") {
		t.Error("single-character keys must be rejected")
	}
	if strings.Count(buf.String(), "snippet key too short") != 2 {
		t.Errorf("log: %s", buf.String())
	}
}

func TestSnippets_UnregisterClearsBothKinds(t *testing.T) {
	logger, _ := testLogger()
	r := NewSnippets(nil, logger)

	_ = r.Register("/s", snippetMeta("aa", false))
	_ = r.Register("/s", snippetMeta("bb", true))
	if len(r.Entries()) != 2 {
		t.Fatalf("entries = %+v", r.Entries())
	}
	r.Unregister("/s")
	if r.Has("/s") || len(r.Entries()) != 0 {
		t.Errorf("entries = %+v", r.Entries())
	}
	r.Unregister("/s")
}

func TestSnippets_FeedEmits(t *testing.T) {
	rec := &recorder{}
	logger, _ := testLogger()
	r := NewSnippets(rec.emit, logger)
	_ = r.Register("/long.js", snippetMeta("goodbye!", false))

	var hits int
	for _, ch := range "say goodbye!" {
		hits += len(r.Feed(ch))
	}
	if hits != 1 {
		t.Fatalf("hits = %d", hits)
	}
	reqs := rec.all()
	if len(reqs) != 1 || reqs[0].Script != "/long.js" || reqs[0].Trigger != models.TriggerSnippet {
		t.Errorf("requests = %+v", reqs)
	}

	// Buffer is cleared after a match, so one more "!" does not refire.
	if got := r.Feed('!'); len(got) != 0 {
		t.Errorf("refired: %+v", got)
	}
}

func TestSnippets_FeedPostfixPassesWord(t *testing.T) {
	rec := &recorder{}
	logger, _ := testLogger()
	r := NewSnippets(rec.emit, logger)
	_ = r.Register("/post.js", snippetMeta("*,,", false))
	_ = r.Register("/plain.js", snippetMeta(";;", false))

	for _, ch := range "say hello,, then x;;" {
		r.Feed(ch)
	}
	reqs := rec.all()
	if len(reqs) != 2 {
		t.Fatalf("requests = %+v", reqs)
	}
	if reqs[0].Script != "/post.js" || len(reqs[0].Args) != 2 || reqs[0].Args[0] != ",," || reqs[0].Args[1] != "hello" {
		t.Errorf("postfix request = %+v", reqs[0])
	}
	if reqs[1].Script != "/plain.js" || len(reqs[1].Args) != 1 || reqs[1].Args[0] != ";;" {
		t.Errorf("plain request = %+v", reqs[1])
	}
}
