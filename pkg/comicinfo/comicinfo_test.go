package comicinfo

import (
	"strings"
	"testing"

	"github.com/stacksapp/stacks/pkg/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	doc := `<?xml version="1.0"?>
<ComicInfo>
  <Title>The Big One</Title>
  <Series>Saga</Series>
  <Number>12</Number>
  <Writer>Brian K. Vaughan, Fiona Staples</Writer>
  <Genre>Sci-Fi; Fantasy</Genre>
  <AgeRating>Mature 17+</AgeRating>
  <Year>2013</Year>
  <Month>4</Month>
  <Day>x</Day>
  <PageCount>22</PageCount>
  <LanguageISO>en</LanguageISO>
</ComicInfo>`

	ci, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)

	raw := ci.Raw()
	assert.Equal(t, metadata.SourceComicInfo, raw.Source)
	assert.Equal(t, "The Big One", raw.Title)
	assert.Equal(t, "12", raw.Number)
	assert.Equal(t, []string{"Brian K. Vaughan", "Fiona Staples"}, raw.Writers)
	assert.Equal(t, []string{"Sci-Fi", "Fantasy"}, raw.Genres)
	require.NotNil(t, raw.AgeRating)
	assert.Equal(t, 17, *raw.AgeRating)
	require.NotNil(t, raw.Year)
	assert.Equal(t, 2013, *raw.Year)
	assert.Nil(t, raw.Day)
	require.NotNil(t, raw.PageCount)
	assert.Equal(t, 22, *raw.PageCount)
	assert.Equal(t, "en", raw.Language)
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse(strings.NewReader("<ComicInfo><Title>"))
	require.Error(t, err)
}

func TestIsComicInfo(t *testing.T) {
	assert.True(t, IsComicInfo("ComicInfo.xml"))
	assert.True(t, IsComicInfo("meta/comicinfo.XML"))
	assert.True(t, IsComicInfo(`meta\ComicInfo.xml`))
	assert.False(t, IsComicInfo("ComicInfo.xml.bak"))
	assert.False(t, IsComicInfo("001.png"))
}
