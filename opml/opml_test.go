package opml

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josdijkstraco/rssfeed-agent/model"
)

func TestParse(t *testing.T) {
	doc := `<?xml version="1.0" encoding="UTF-8"?>
<opml version="2.0">
  <head><title>My Subscriptions</title></head>
  <body>
    <outline type="rss" text="Tech Blog" title="Tech Blog" xmlUrl="https://tech.example.com/rss"/>
    <outline text="News">
      <outline type="rss" text="Daily News" xmlUrl="https://news.example.com/rss"/>
      <outline type="rss" title="Weekly Digest" xmlUrl="https://digest.example.com/atom"/>
    </outline>
    <outline text="Just a folder, no feed"/>
  </body>
</opml>`

	subs, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, subs, 3)

	assert.Equal(t, "https://tech.example.com/rss", subs[0].URL)
	assert.Equal(t, "Tech Blog", subs[0].Title)

	// Nested outlines are flattened; text is the title fallback.
	assert.Equal(t, "Daily News", subs[1].Title)
	assert.Equal(t, "Weekly Digest", subs[2].Title)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse(strings.NewReader("not xml at all"))
	assert.Error(t, err)
}

func TestGenerate(t *testing.T) {
	feeds := []model.Feed{
		{URL: "https://tech.example.com/rss", Title: "Tech Blog"},
		{URL: "https://news.example.com/rss", Title: "Daily News"},
	}

	var buf bytes.Buffer
	require.NoError(t, Generate(&buf, feeds))

	out := buf.String()
	assert.Contains(t, out, `<opml version="2.0">`)
	assert.Contains(t, out, `xmlUrl="https://tech.example.com/rss"`)
	assert.Contains(t, out, `title="Daily News"`)

	// A generated document round-trips through Parse.
	subs, err := Parse(strings.NewReader(out))
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, "Tech Blog", subs[0].Title)
}
