// Copyright 2025 Antimetal Inc.
//
// Licensed under the PolyForm Shield License 1.0.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at:
//
//     https://polyformproject.org/licenses/shield/1.0.0/
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command measure-demo wires together every measurement-runtime
// component end to end: definitions, clock, locations, threads, tasks,
// metric sources, the event dispatcher, substrates, system-tree
// discovery and the init/finalize lifecycle. It instruments a tiny
// fork-join workload and finalizes into an experiment directory, the
// way a real instrumented application would via the generated adapter
// layer this package stands in for.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"

	"github.com/antimetal/scorep-core/pkg/measurement/definition"
	"github.com/antimetal/scorep-core/pkg/measurement/metricsource/rusage"
	"github.com/antimetal/scorep-core/pkg/measurement/runtime"
	"github.com/antimetal/scorep-core/pkg/measurement/substrate/profile"
	"github.com/antimetal/scorep-core/pkg/measurement/substrate/snapshot"
)

var (
	verbose     = flag.Bool("verbose", false, "Enable verbose logging")
	expDir      = flag.String("experiment-directory", "", "Experiment directory (empty uses the default transient name)")
	snapshotDir = flag.String("snapshot-dir", "", "Badger directory for the snapshot substrate (empty uses in-memory)")
	forkWidth   = flag.Int("fork-width", 4, "Number of worker threads in the simulated team")
)

func main() {
	flag.Parse()

	var logger logr.Logger
	if *verbose {
		zapLog, _ := zap.NewDevelopment()
		logger = zapr.NewLogger(zapLog)
	} else {
		logger = logr.Discard()
	}

	environ := os.Environ()
	if *expDir != "" {
		environ = append(environ, "SCOREP_EXPERIMENT_DIRECTORY="+*expDir)
	}

	m, err := runtime.New(runtime.Config{
		Logger:              logger,
		ConfigPrefix:        "SCOREP",
		Environ:             environ,
		NumSubsystems:       1,
		MachineNameFallback: hostname(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "measure-demo: init failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("experiment directory: %s\n", m.ExperimentDirectory())

	prof := profile.New()
	if err := m.RegisterSubstrate(prof); err != nil {
		fmt.Fprintf(os.Stderr, "measure-demo: profile substrate registration failed: %v\n", err)
		os.Exit(1)
	}

	snap, err := snapshot.Open(*snapshotDir, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "measure-demo: snapshot substrate init failed: %v\n", err)
		os.Exit(1)
	}
	defer snap.Close()
	if err := m.RegisterSubstrate(snap); err != nil {
		fmt.Fprintf(os.Stderr, "measure-demo: snapshot substrate registration failed: %v\n", err)
		os.Exit(1)
	}

	if err := m.RegisterMetricSource(rusage.New()); err != nil {
		fmt.Fprintf(os.Stderr, "measure-demo: registering rusage metric source failed: %v\n", err)
		os.Exit(1)
	}

	runWorkload(m, *forkWidth)

	if err := m.Finalize(nil); err != nil {
		fmt.Fprintf(os.Stderr, "measure-demo: finalize failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("finalized into: %s\n", m.ExperimentDirectory())
}

// runWorkload enters and exits a handful of regions on the initial
// thread, then simulates a small fork-join team, demonstrating the
// dispatcher's region and thread-model entry points together.
func runWorkload(m *runtime.Measurement, width int) {
	reg := m.Registry()
	dispatcher := m.Dispatcher()
	threads := m.Threads()

	mainName, _ := reg.Strings.Define("main")
	mainRegion, _ := reg.Regions.Define(definition.RegionKey{Name: mainName})

	initial := threads.Initial()
	_ = dispatcher.EnterRegion(initial, mainRegion, nil)

	workName, _ := reg.Strings.Define("parallel_work")
	workRegion, _ := reg.Regions.Define(definition.RegionKey{Name: workName})

	forkSeq, err := threads.OnFork(initial, width)
	if err == nil {
		for worker := 0; worker < width; worker++ {
			tpd, err := threads.OnTeamBegin(initial, forkSeq, width, worker)
			if err != nil {
				continue
			}
			_ = dispatcher.EnterRegion(tpd, workRegion, nil)
			time.Sleep(time.Millisecond)
			_ = dispatcher.ExitRegion(tpd, workRegion, nil)
			threads.OnTeamEnd(tpd)
		}
		threads.OnJoin(initial)
	}

	_ = dispatcher.ExitRegion(initial, mainRegion, nil)
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
