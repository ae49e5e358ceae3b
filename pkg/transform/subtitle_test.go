package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTranscript = `{"start":[0,2520,5010],"end":[2520,5010,7500],"text":["Welcome to the course.","","Let us begin."]}`

func TestSubtitleDecompose(t *testing.T) {
	tr := NewSubtitleTransformer()

	units, err := tr.Decompose(sampleTranscript)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"subtitle-0-2520-1":    "Welcome to the course.",
		"subtitle-2520-5010-2": EmptyCuePlaceholder,
		"subtitle-5010-7500-3": "Let us begin.",
	}, units)
}

func TestSubtitleRecompose(t *testing.T) {
	tr := NewSubtitleTransformer()

	out, err := tr.Recompose(sampleTranscript, map[string]string{
		"subtitle-0-2520-1":    "Bienvenue au cours.",
		"subtitle-2520-5010-2": EmptyCuePlaceholder,
		"subtitle-5010-7500-3": "Commençons.",
	})
	require.NoError(t, err)

	again, err := tr.Decompose(out)
	require.NoError(t, err)
	assert.Equal(t, "Bienvenue au cours.", again["subtitle-0-2520-1"])
	assert.Equal(t, EmptyCuePlaceholder, again["subtitle-2520-5010-2"])
}

func TestSubtitleRecomposeMissingKey(t *testing.T) {
	tr := NewSubtitleTransformer()

	_, err := tr.Recompose(sampleTranscript, map[string]string{
		"subtitle-0-2520-1": "only one cue",
	})
	var missing *MissingKeyError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "subtitle-2520-5010-2", missing.Key)
}

func TestSubtitleRoundTrip(t *testing.T) {
	tr := NewSubtitleTransformer()

	units, err := tr.Decompose(sampleTranscript)
	require.NoError(t, err)

	out, err := tr.Recompose(sampleTranscript, units)
	require.NoError(t, err)
	assert.JSONEq(t, sampleTranscript, out)
}

func TestSubtitleValidate(t *testing.T) {
	tr := NewSubtitleTransformer()

	assert.NoError(t, tr.Validate(sampleTranscript))
	assert.Error(t, tr.Validate(`{"text":["no time points"]}`))
	assert.Error(t, tr.Validate(`{"start":[0],"end":[1,2],"text":["mismatch"]}`))
	assert.Error(t, tr.Validate(`not json`))
}
