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

package czar

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWorkerAssignerRejectsEmpty(t *testing.T) {
	_, err := NewWorkerAssigner(nil)
	require.Error(t, err)
}

func TestWorkerAssignerRoundRobins(t *testing.T) {
	a, err := NewWorkerAssigner([]string{"w1", "w2", "w3"})
	require.NoError(t, err)

	got := []string{a.Next(), a.Next(), a.Next(), a.Next()}
	require.Equal(t, []string{"w1", "w2", "w3", "w1"}, got)
}
