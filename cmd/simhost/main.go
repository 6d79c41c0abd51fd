// Command simhost boots the kernel packages in this repository as a
// single hosted process: it opens (and optionally formats) a
// file-backed disk image, mounts the filesystem on top of it, wires
// every component's registration hook the way a real boot sequence
// wires trap vectors, and serves a Prometheus metrics endpoint for as
// long as the process runs.
//
// There is no real RISC-V hart or user-mode binary to run here — every
// package in this tree is itself the hosted stand-in for that hardware
// (see proc's own package doc) — so simhost's job is the part a real
// bootloader/kernel main() does that a unit test does not: parse
// configuration, bring the storage stack up in the right order, and
// keep the process alive while work happens against it.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"bcache"
	"defs"
	"fd"
	"fdops"
	"file"
	"fs"
	"proc"
	"simdisk"
	"stats"
	"sysc"
	"trap"
	"uart"
	"virtio"
)

var (
	flagDisk        string
	flagNblocks     int
	flagNinodes     int
	flagLoglen      int
	flagNicache     int
	flagFormat      bool
	flagMetricsAddr string
	flagConfig      string
)

func main() {
	root := &cobra.Command{
		Use:   "simhost",
		Short: "Boot the hosted kernel against a file-backed disk image",
		RunE:  run,
	}
	fl := root.Flags()
	fl.StringVar(&flagDisk, "disk", "simhost.img", "path to the disk image file")
	fl.IntVar(&flagNblocks, "nblocks", 65536, "total blocks in the disk image")
	fl.IntVar(&flagNinodes, "ninodes", 1024, "number of inodes to format")
	fl.IntVar(&flagLoglen, "loglen", 256, "write-ahead log length in blocks")
	fl.IntVar(&flagNicache, "nicache", 64, "in-memory inode cache size")
	fl.BoolVar(&flagFormat, "format", false, "format a fresh filesystem before mounting")
	fl.StringVar(&flagMetricsAddr, "metrics-addr", ":9100", "address to serve Prometheus metrics on")
	fl.StringVar(&flagConfig, "config", "", "optional config file (overrides flag defaults)")

	viper.SetEnvPrefix("simhost")
	viper.AutomaticEnv()
	if err := viper.BindPFlags(fl); err != nil {
		log.Fatalf("simhost: bind flags: %v", err)
	}

	if err := root.Execute(); err != nil {
		log.Fatalf("simhost: %v", err)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if flagConfig != "" {
		viper.SetConfigFile(flagConfig)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", flagConfig, err)
		}
	}
	disk := viper.GetString("disk")
	nblocks := viper.GetInt("nblocks")
	ninodes := viper.GetInt("ninodes")
	loglen := viper.GetInt("loglen")
	nicache := viper.GetInt("nicache")
	format := viper.GetBool("format")
	metricsAddr := viper.GetString("metrics-addr")

	bootID := uuid.New()
	log.Printf("simhost: boot session %s starting (disk=%s nblocks=%d)", bootID, disk, nblocks)

	d, err := simdisk.Open(disk, nblocks)
	if err != nil {
		return fmt.Errorf("open disk: %w", err)
	}
	defer d.Close()

	blockDev := virtio.Mk(d)
	blockDev.Init()

	const dev = 0
	cache := bcache.MkCache(256, blockDev)

	if format {
		sb := fs.MkSuperblock(nblocks, ninodes, loglen)
		fs.Format(cache, dev, sb)
		log.Printf("simhost: formatted %s: %d blocks, %d inodes, %d-block log", disk, sb.Nblocks, sb.Ninodes, sb.Loglen)
	}
	mounted := fs.MkFS(dev, cache, nicache)

	installHooks(mounted)
	registerDevices()

	initProc, err := bootInitProcess(mounted)
	if err != nil {
		return fmt.Errorf("boot init process: %w", err)
	}
	log.Printf("simhost: init process pid=%d running", initProc.Pid)

	if err := bringUpHarts(); err != nil {
		return fmt.Errorf("hart bring-up: %w", err)
	}

	return serve(metricsAddr, bootID)
}

// installHooks wires every component's registration point the way a
// real boot does: the hart identity/scheduler hooks lock needs before
// any lock outside the boot path is taken, the process hooks trap
// dispatch calls on every yield/kill check, and the syscall dispatcher
// itself.
func installHooks(mounted *fs.Fs_t) {
	proc.InstallHartProvider()
	proc.InstallSchedHooks()
	proc.InstallProcHooks()
	sysc.InstallFS(mounted)
	sysc.Install()
}

// registerDevices installs the device-major table entries simhost
// owns outright (console is attached per-fd instead, at process boot,
// since it is stateful per line-discipline rather than a stateless
// read/write pair). /dev/null is already registered by file's own
// init; /dev/stat and /dev/prof are this binary's to wire up since
// they read live kernel state only a running boot has.
func registerDevices() {
	file.RegisterProfDevice(trap.Ticks)
	file.RegisterDevice(defs.D_STAT, &file.DevOps{
		Read: func(dst fdops.Userio_i) (int, defs.Err_t) {
			s := stats.Stats2String(struct{}{})
			return dst.Uiowrite([]byte(s))
		},
	})
}

// bootInitProcess creates the first process, gives it the root
// directory as its working directory, and attaches a console fd on
// stdin/stdout/stderr, matching the reference design's userinit.
func bootInitProcess(mounted *fs.Fs_t) (*proc.Proc_t, error) {
	p := proc.MkFirstProc("init", 16)
	proc.SetInit(p)

	root := mounted.MkRootCwd()
	p.Cwd = fd.MkRootCwd(&fd.Fd_t{Fops: file.MkFile(mounted, root, false)})

	u := uart.Mk()
	console := uart.MkConsole(u)
	console.Killed = func() bool { return p.Killed }
	for _, slot := range []int{0, 1, 2} {
		p.Fds[slot] = &fd.Fd_t{Fops: uart.MkConsoleFd(console), Perms: fd.FD_READ | fd.FD_WRITE}
	}
	return p, nil
}

// bringUpHarts starts NCPU placeholder hart goroutines concurrently
// and waits for all of them to report ready before boot continues —
// the parallel per-hart bring-up step a multi-hart boot sequence
// performs before handing control to the scheduler, here reduced to
// "every hart slot is accounted for" since this kernel's harts are
// goroutines rather than physical cores (see proc's package doc).
func bringUpHarts() error {
	var g errgroup.Group
	var ready int64
	for hart := 0; hart < proc.NCPU; hart++ {
		hart := hart
		g.Go(func() error {
			atomic.AddInt64(&ready, 1)
			log.Printf("simhost: hart %d ready", hart)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if int(ready) != proc.NCPU {
		return fmt.Errorf("only %d/%d harts reported ready", ready, proc.NCPU)
	}
	return nil
}

var (
	ticksGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "simhost_ticks_total",
		Help: "Timer ticks observed since boot.",
	})
	bootInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "simhost_boot_info",
		Help: "Constant 1-valued metric labeled with the current boot session id.",
	}, []string{"boot_id"})
)

// serve exports Prometheus metrics over HTTP and blocks until SIGINT/
// SIGTERM, periodically refreshing the tick gauge from trap.Ticks so a
// scrape always reflects current kernel state.
func serve(addr string, bootID uuid.UUID) error {
	bootInfo.WithLabelValues(bootID.String()).Set(1)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("simhost: metrics listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			case <-ticker.C:
				ticksGauge.Set(float64(trap.Ticks()))
			}
		}
	})
	return g.Wait()
}
