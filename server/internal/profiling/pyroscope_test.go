// pyroscope_test.go - Continuous profiling tests.
// Copyright (C) 2026  Katzenpost Developers.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package profiling

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/rendezvous/core/log"
	"github.com/katzenpost/rendezvous/server/config"
)

func TestStartDisabled(t *testing.T) {
	require := require.New(t)

	logBackend, err := log.New("", "DEBUG", true)
	require.NoError(err)

	stop, err := Start(&config.Profiling{}, logBackend.GetLogger("profiling"))
	require.NoError(err)
	require.NotNil(stop)
	stop()
}
