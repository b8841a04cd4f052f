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
	"flag"
	"os"
	"syscall"

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

	srv, err := server.NewServer(settings)
	if err != nil {
		cmd.Die(err)
	}
	err = srv.Start()
	if err != nil {
		cmd.Die(err)
	}

	cmd.HandleSignals(map[os.Signal]func(){
		syscall.SIGINT:  srv.Stop,
		syscall.SIGTERM: srv.Stop,
		syscall.SIGUSR1: srv.LogRotate,
		syscall.SIGUSR2: prof.Snapshot,
	})

	err = srv.Wait()
	prof.Stop()
	cmd.Die(err)
}
