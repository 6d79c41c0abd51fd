// Command mkfs builds a fresh, formatted disk image and optionally
// copies a directory of host files into its root directory — the
// offline image-building step a real boot needs before simhost (or
// real hardware) ever mounts the filesystem for the first time.
//
// Unlike simhost, mkfs never keeps the filesystem mounted: it formats,
// copies, flushes, and exits, the way the reference kernel's own
// mkfs.c tool is a one-shot host-side program rather than part of the
// kernel binary.
package main

import (
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	kfs "fs"

	"bcache"
	"defs"
	"file"
	"simdisk"
	"ustr"
	"virtio"
	"vm"
)

var (
	flagDisk     string
	flagNblocks  int
	flagNinodes  int
	flagLoglen   int
	flagSeedDir  string
	flagConfig   string
)

func main() {
	root := &cobra.Command{
		Use:   "mkfs",
		Short: "Format a disk image and seed it from a host directory",
		RunE:  run,
	}
	fl := root.Flags()
	fl.StringVar(&flagDisk, "disk", "fs.img", "path to the disk image file to create")
	fl.IntVar(&flagNblocks, "nblocks", 65536, "total blocks in the disk image")
	fl.IntVar(&flagNinodes, "ninodes", 1024, "number of inodes to format")
	fl.IntVar(&flagLoglen, "loglen", 256, "write-ahead log length in blocks")
	fl.StringVar(&flagSeedDir, "seed", "", "host directory whose contents are copied into the image root")
	fl.StringVar(&flagConfig, "config", "", "optional config file (overrides flag defaults)")

	viper.SetEnvPrefix("mkfs")
	viper.AutomaticEnv()
	if err := viper.BindPFlags(fl); err != nil {
		log.Fatalf("mkfs: bind flags: %v", err)
	}

	if err := root.Execute(); err != nil {
		log.Fatalf("mkfs: %v", err)
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
	seedDir := viper.GetString("seed")

	d, err := simdisk.Open(disk, nblocks)
	if err != nil {
		return fmt.Errorf("create disk: %w", err)
	}
	defer d.Close()

	blockDev := virtio.Mk(d)
	blockDev.Init()

	const dev = 0
	cache := bcache.MkCache(256, blockDev)

	sb := kfs.MkSuperblock(nblocks, ninodes, loglen)
	kfs.Format(cache, dev, sb)
	log.Printf("mkfs: formatted %s: %d blocks, %d inodes, %d-block log", disk, sb.Nblocks, sb.Ninodes, sb.Loglen)

	mounted := kfs.MkFS(dev, cache, 64)
	if seedDir != "" {
		root := mounted.MkRootCwd()
		if err := seedTree(mounted, root, seedDir); err != nil {
			return fmt.Errorf("seed %s: %w", seedDir, err)
		}
	}
	if err := d.Flush(); err != nil {
		log.Printf("mkfs: flush: %v (continuing)", err)
	}
	log.Printf("mkfs: %s ready", disk)
	return nil
}

// seedTree walks the host directory tree rooted at hostDir and
// recreates it under root in the new filesystem, copying regular file
// contents and creating directories, matching the layout the original
// reference mkfs tool's copydata step built by hand one path at a time.
func seedTree(mounted *kfs.Fs_t, root *kfs.Inode_t, hostDir string) error {
	return filepath.WalkDir(hostDir, func(hostPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(hostDir, hostPath)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		imgPath := ustr.Ustr("/" + filepath.ToSlash(rel))

		mounted.BeginOp()
		defer mounted.EndOp()

		if d.IsDir() {
			_, errt := mounted.Create(root, imgPath, defs.T_DIR, 0, 0, true)
			if errt != 0 {
				return fmt.Errorf("mkdir %s: errno %d", imgPath, errt)
			}
			return nil
		}
		ip, errt := mounted.Create(root, imgPath, defs.T_FILE, 0, 0, true)
		if errt != 0 {
			return fmt.Errorf("create %s: errno %d", imgPath, errt)
		}
		data, err := os.ReadFile(hostPath)
		if err != nil {
			return err
		}
		fd := file.MkFile(mounted, ip, false)
		var fb vm.Fakeubuf_t
		fb.Fake_init(data)
		n, errt := fd.Write(&fb)
		if errt != 0 {
			return fmt.Errorf("write %s: errno %d", imgPath, errt)
		}
		if n != len(data) {
			return fmt.Errorf("write %s: short write %d/%d", imgPath, n, len(data))
		}
		if errt := fd.Close(); errt != 0 {
			return fmt.Errorf("close %s: errno %d", imgPath, errt)
		}
		return nil
	})
}
