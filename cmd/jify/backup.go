package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/s2"
)

// backupMagic tags a jify backup container so restore can reject a
// mismatched file early instead of failing deep inside s2.Decode.
var backupMagic = [4]byte{'J', 'F', 'Y', 'B'}

func runBackup(args []string) error {
	fs := flag.NewFlagSet("backup", flag.ContinueOnError)
	out := fs.String("out", "", "output backup file path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	// Parsing stops at the first positional argument; resume after each one
	// so flags may follow FILE.
	var positional []string
	for fs.NArg() > 0 {
		positional = append(positional, fs.Arg(0))
		if err := fs.Parse(fs.Args()[1:]); err != nil {
			return err
		}
	}
	if len(positional) != 1 || *out == "" {
		return fmt.Errorf("usage: jify backup FILE --out PATH")
	}
	dataPath := positional[0]
	idxPath := indexPathFor(dataPath)

	dataBytes, err := os.ReadFile(dataPath)
	if err != nil {
		return err
	}
	idxBytes, err := os.ReadFile(idxPath)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(*out, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(backupMagic[:]); err != nil {
		return err
	}
	if err := writeBlock(f, dataBytes); err != nil {
		return err
	}
	if err := writeBlock(f, idxBytes); err != nil {
		return err
	}

	fmt.Printf("backed up %s + %s -> %s\n", dataPath, idxPath, *out)
	return nil
}

func runRestore(args []string) error {
	fs := flag.NewFlagSet("restore", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: jify restore BACKUP FILE")
	}
	backupPath, dataPath := fs.Arg(0), fs.Arg(1)
	idxPath := indexPathFor(dataPath)

	f, err := os.Open(backupPath)
	if err != nil {
		return err
	}
	defer f.Close()

	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return err
	}
	if magic != backupMagic {
		return fmt.Errorf("%s is not a jify backup container", backupPath)
	}

	dataBytes, err := readBlock(f)
	if err != nil {
		return err
	}
	idxBytes, err := readBlock(f)
	if err != nil {
		return err
	}

	if err := writeExclusive(dataPath, dataBytes); err != nil {
		return err
	}
	if err := writeExclusive(idxPath, idxBytes); err != nil {
		return err
	}

	fmt.Printf("restored %s -> %s + %s\n", backupPath, dataPath, idxPath)
	return nil
}

// writeBlock s2-compresses data and writes it as a uint64-length-prefixed
// block, the same shape the teacher's SSTable block writer uses for its
// compressed data blocks.
func writeBlock(w io.Writer, data []byte) error {
	compressed := s2.Encode(nil, data)
	if err := binary.Write(w, binary.LittleEndian, uint64(len(compressed))); err != nil {
		return err
	}
	_, err := w.Write(compressed)
	return err
}

func readBlock(r io.Reader) ([]byte, error) {
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	compressed := make([]byte, n)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return nil, err
	}
	return s2.Decode(nil, compressed)
}

func writeExclusive(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(data)
	return err
}
