// main_test.go - Rendezvous server binary tests.
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

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateOnly(t *testing.T) {
	require := require.New(t)

	f := filepath.Join(t.TempDir(), "rendezvous.toml")
	require.NoError(os.WriteFile(f, []byte(`
[Server]
Identifier = "rendezvous.example.com"
Addresses = [ "tcp://127.0.0.1:7070" ]
`), 0600))

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"-f", f, "--validate-only"})
	require.NoError(cmd.Execute())
	require.Contains(out.String(), "is valid")
}

func TestMissingConfig(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"-f", filepath.Join(t.TempDir(), "missing.toml"), "--validate-only"})
	err := cmd.Execute()
	require.ErrorContains(t, err, "failed to load config file")
}
