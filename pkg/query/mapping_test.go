// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package query

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplySubstitutesChunkPlaceholder(t *testing.T) {
	tmpl := NewTemplate("SELECT * FROM T_%CC% WHERE x > 1")
	m := NewMapping()
	m.Bind("%CC%", Chunk)

	out, err := m.Apply(ChunkSpec{Chunk: 42}, tmpl)
	require.NoError(t, err)
	require.Equal(t, "SELECT * FROM T_42 WHERE x > 1", out)
}

func TestApplySubstitutesSubchunkPlaceholders(t *testing.T) {
	tmpl := NewTemplate("SELECT * FROM T_%CC% AS a, T_%CC%_%S1% AS b, T_%CC%_%S2% AS c")
	m := NewMapping()
	m.Bind("%CC%", Chunk)
	m.Bind("%S1%", Subchunk)
	m.Bind("%S2%", Subchunk)
	m.MarkSubchunked("T")

	out, err := m.Apply(ChunkSpec{Chunk: 3, SubChunks: []int{10, 11}}, tmpl)
	require.NoError(t, err)
	require.Equal(t, "SELECT * FROM T_3 AS a, T_3_10 AS b, T_3_11 AS c", out)
	require.True(t, m.IsSubchunked("T"))
}

func TestValidateRejectsUnmappedPlaceholder(t *testing.T) {
	tmpl := NewTemplate("SELECT * FROM T_%CC%")
	m := NewMapping()
	err := m.Validate(tmpl)
	require.Error(t, err)
}

func TestApplyFailsWithoutEnoughSubchunks(t *testing.T) {
	tmpl := NewTemplate("SELECT * FROM T_%CC%_%S1%_%S2%")
	m := NewMapping()
	m.Bind("%CC%", Chunk)
	m.Bind("%S1%", Subchunk)
	m.Bind("%S2%", Subchunk)

	_, err := m.Apply(ChunkSpec{Chunk: 1, SubChunks: []int{1}}, tmpl)
	require.Error(t, err)
}

func TestPlaceholdersFirstOccurrenceOrder(t *testing.T) {
	tmpl := NewTemplate("%B% and %A% and %B%")
	require.Equal(t, []string{"%B%", "%A%"}, tmpl.Placeholders())
}
