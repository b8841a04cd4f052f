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

// Package cmd holds process helpers shared by the hkps commands.
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/pprof"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/errgo.v1"

	"hkps/server"
)

func Die(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
	os.Exit(0)
}

// LoadSettings reads an optional .env file into the environment, then
// parses the config file over the defaults. An empty path yields the
// defaults with environment overrides.
func LoadSettings(configFile string) (*server.Settings, error) {
	err := godotenv.Load()
	if err != nil && !os.IsNotExist(err) {
		return nil, errgo.Notef(err, "cannot load .env")
	}
	var conf []byte
	if configFile != "" {
		conf, err = os.ReadFile(configFile)
		if err != nil {
			return nil, errgo.Mask(err)
		}
	}
	settings, err := server.ParseSettings(string(conf))
	if err != nil {
		return nil, errgo.Mask(err)
	}
	return settings, nil
}

// Profiler writes CPU and heap profiles into the temporary directory.
// Each snapshot completes the running CPU profile and starts another.
type Profiler struct {
	CPU, Mem bool

	cpuFile *os.File
}

func profilePath(name string) string {
	return filepath.Join(os.TempDir(), "hkps-"+name+".prof")
}

// Start begins CPU profiling if enabled.
func (p *Profiler) Start() {
	if !p.CPU {
		return
	}
	f, err := os.Create(profilePath("cpu") + ".part")
	if err != nil {
		Die(errors.WithStack(err))
	}
	err = pprof.StartCPUProfile(f)
	if err != nil {
		f.Close()
		Die(errors.WithStack(err))
	}
	p.cpuFile = f
}

// Snapshot finishes the current CPU profile, restarts it and writes a
// heap profile.
func (p *Profiler) Snapshot() {
	if p.stopCPU() {
		p.Start()
	}
	if p.Mem {
		p.writeHeap()
	}
}

// Stop finishes profiling, writing the final profiles.
func (p *Profiler) Stop() {
	p.stopCPU()
	if p.Mem {
		p.writeHeap()
	}
}

func (p *Profiler) stopCPU() bool {
	if p.cpuFile == nil {
		return false
	}
	pprof.StopCPUProfile()
	p.cpuFile.Close()
	os.Rename(p.cpuFile.Name(), profilePath("cpu"))
	log.Infof("CPU profile written to %q", profilePath("cpu"))
	p.cpuFile = nil
	return true
}

func (p *Profiler) writeHeap() {
	tmpName := fmt.Sprintf("%s.%d", profilePath("mem"), time.Now().Unix())
	f, err := os.Create(tmpName)
	if err != nil {
		log.Warningf("cannot create heap profile: %v", err)
		return
	}
	err = pprof.WriteHeapProfile(f)
	f.Close()
	if err != nil {
		log.Warningf("failed to write heap profile: %v", err)
		return
	}
	os.Rename(tmpName, profilePath("mem"))
	log.Infof("heap profile written to %q", profilePath("mem"))
}

// HandleSignals runs the matching handler for each signal received, in
// the order received.
func HandleSignals(handlers map[os.Signal]func()) {
	c := make(chan os.Signal, 1)
	for sig := range handlers {
		signal.Notify(c, sig)
	}
	go func() {
		for sig := range c {
			handlers[sig]()
		}
	}()
}
