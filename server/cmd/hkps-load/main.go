/*
   Hockeypuck - OpenPGP key server
   Copyright (C) 2012-2014  Casey Marshall

   This program is free software: you can redistribute it and/or modify
   it under the terms of the GNU Affero General Public License as published by
   the Free Software Foundation, version 3.

   This program is distributed in the hope that it will be useful,
   but WITHOUT ANY WARRANTY; without even the implied warranty of
   MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
   GNU Affero General Public License for more details.

   You should have received a copy of the GNU Affero General Public License
   along with this program.  If not, see <http://www.gnu.org/licenses/>.
*/

package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/errgo.v1"

	"hkps/hkp/hkperrors"
	"hkps/hkp/ingest"
	"hkps/openpgp"
	"hkps/server"
	"hkps/server/cmd"
)

var (
	configFile = flag.String("config", "", "config file")
	cpuProf    = flag.Bool("cpuprof", false, "enable CPU profiling")
	memProf    = flag.Bool("memprof", false, "enable mem profiling")
)

func main() {
	flag.Parse()

	settings, err := cmd.LoadSettings(*configFile)
	if err != nil {
		cmd.Die(err)
	}

	prof := &cmd.Profiler{CPU: *cpuProf, Mem: *memProf}
	prof.Start()

	args := flag.Args()
	if len(args) == 0 {
		log.Errorf("usage: %s [flags] <file1> [file2 .. fileN]", os.Args[0])
		cmd.Die(errgo.New("missing PGP key file arguments"))
	}

	cmd.HandleSignals(map[os.Signal]func(){
		syscall.SIGUSR2: prof.Snapshot,
	})

	err = load(context.Background(), settings, args)
	prof.Stop()
	cmd.Die(err)
}

const (
	armorBegin = "-----BEGIN PGP PUBLIC KEY BLOCK-----"
	armorEnd   = "-----END PGP PUBLIC KEY BLOCK-----"
)

// splitArmored returns each armored public key block found in data.
func splitArmored(data string) []string {
	var blocks []string
	for {
		start := strings.Index(data, armorBegin)
		if start < 0 {
			return blocks
		}
		end := strings.Index(data[start:], armorEnd)
		if end < 0 {
			return blocks
		}
		end += start + len(armorEnd)
		blocks = append(blocks, data[start:end]+"\n")
		data = data[end:]
	}
}

type loadCounts struct {
	added, duplicate, rejected int
}

func (lc *loadCounts) record(file string, err error) {
	switch {
	case err == nil:
		lc.added++
	case hkperrors.IsDuplicate(err):
		lc.duplicate++
		log.WithField("file", file).Debug(err)
	default:
		lc.rejected++
		log.WithField("file", file).Warningf("key rejected: %v", err)
	}
}

func load(ctx context.Context, settings *server.Settings, args []string) error {
	st, err := server.DialStorage(settings)
	if err != nil {
		return errgo.Mask(err)
	}
	defer st.Close()

	engine := openpgp.NewGoCrypto(openpgp.MaxKeyLength(settings.OpenPGP.MaxKeyLength))
	pipeline := ingest.New(engine, st)

	for _, arg := range args {
		matches, err := filepath.Glob(arg)
		if err != nil {
			log.Errorf("failed to match %q: %v", arg, err)
			continue
		}
		for _, file := range matches {
			data, err := os.ReadFile(file)
			if err != nil {
				log.Errorf("failed to open %q for reading: %v", file, err)
				continue
			}
			t := time.Now()
			var counts loadCounts
			for _, block := range splitArmored(string(data)) {
				_, err := pipeline.Add(ctx, block)
				counts.record(file, err)
			}
			log.WithFields(log.Fields{
				"added":     counts.added,
				"duplicate": counts.duplicate,
				"rejected":  counts.rejected,
			}).Infof("loaded %q in %v", file, time.Since(t))
		}
	}
	return nil
}
