// Package fs implements the on-disk inode layer: the superblock, the
// inode cache, directory operations, path resolution (namex), and
// file creation — the filesystem spec.md describes in full, built
// from its algorithm text directly since the retrieved teacher never
// got past buffer-cache plumbing (its fs/ package had only blk.go and
// an undefined-API super.go; see DESIGN.md).
package fs

import (
	"encoding/binary"

	"bcache"
)

// RootIno is the inode number of the root directory, fixed at mkfs
// time the way the reference kernel fixes it.
const RootIno = 1

// dinode on-disk layout: Type/Major/Minor/Nlink (2 bytes each),
// Size (4 bytes), NDirect direct block pointers, one singly-indirect
// pointer (4 bytes each), padded to a power-of-two size so inodes
// never straddle a block boundary.
const (
	NDirect    = 10
	NIndirect  = bcache.BSIZE / 4
	MaxFile    = NDirect + NIndirect
	dinodeSize = 64
	ipb        = bcache.BSIZE / dinodeSize // inodes per block
)

// sbSize is the superblock's packed on-disk size: 7 uint32 fields.
const sbSize = 7 * 4

// Superblock_t describes a formatted disk's fixed layout. The
// reference kernel's retrieved superblock additionally tracked an
// orphan-inode map (Iorphanblock/Iorphanlen); spec.md's data model
// never describes one, so it is dropped here (see DESIGN.md).
type Superblock_t struct {
	Size       int // total blocks on the disk
	Nblocks    int // data blocks
	Ninodes    int // number of inodes
	Logstart   int // first log block (the header)
	Loglen     int // log area size in blocks, including the header
	Inodestart int // first inode block
	Bmapstart  int // first free-block-bitmap block
}

func (sb *Superblock_t) encode() [bcache.BSIZE]byte {
	var d [bcache.BSIZE]byte
	binary.LittleEndian.PutUint32(d[0:4], uint32(sb.Size))
	binary.LittleEndian.PutUint32(d[4:8], uint32(sb.Nblocks))
	binary.LittleEndian.PutUint32(d[8:12], uint32(sb.Ninodes))
	binary.LittleEndian.PutUint32(d[12:16], uint32(sb.Logstart))
	binary.LittleEndian.PutUint32(d[16:20], uint32(sb.Loglen))
	binary.LittleEndian.PutUint32(d[20:24], uint32(sb.Inodestart))
	binary.LittleEndian.PutUint32(d[24:28], uint32(sb.Bmapstart))
	return d
}

func decodeSuper(d *[bcache.BSIZE]byte) Superblock_t {
	return Superblock_t{
		Size:       int(binary.LittleEndian.Uint32(d[0:4])),
		Nblocks:    int(binary.LittleEndian.Uint32(d[4:8])),
		Ninodes:    int(binary.LittleEndian.Uint32(d[8:12])),
		Logstart:   int(binary.LittleEndian.Uint32(d[12:16])),
		Loglen:     int(binary.LittleEndian.Uint32(d[16:20])),
		Inodestart: int(binary.LittleEndian.Uint32(d[20:24])),
		Bmapstart:  int(binary.LittleEndian.Uint32(d[24:28])),
	}
}

// superBlockno is the fixed block holding the superblock itself.
const superBlockno = 1

// nbitmapBlocks returns how many blocks a free bitmap needs to cover
// size blocks, one bit per block.
func nbitmapBlocks(size int) int {
	bits := bcache.BSIZE * 8
	return (size + bits - 1) / bits
}

// MkSuperblock lays out a filesystem of the given total size (blocks)
// with ninodes inodes and an loglen-block log, computing the
// remaining region boundaries the way mkfs does.
func MkSuperblock(size, ninodes, loglen int) Superblock_t {
	logstart := superBlockno + 1
	inodestart := logstart + loglen
	ninodeblocks := (ninodes + ipb - 1) / ipb
	bmapstart := inodestart + ninodeblocks
	nbitmap := nbitmapBlocks(size)
	nblocks := size - (bmapstart + nbitmap)
	return Superblock_t{
		Size:       size,
		Nblocks:    nblocks,
		Ninodes:    ninodes,
		Logstart:   logstart,
		Loglen:     loglen,
		Inodestart: inodestart,
		Bmapstart:  bmapstart,
	}
}

// dataStart is the first block number assigned to actual file data.
func (sb *Superblock_t) dataStart() int {
	return sb.Bmapstart + nbitmapBlocks(sb.Size)
}
