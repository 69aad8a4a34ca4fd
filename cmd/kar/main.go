// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Command kar creates, lists and extracts kar archives.
//
//	kar compress -o textures.kar -author devblok ./textures
//	kar list textures.kar
//	kar extract -o ./out textures.kar
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/mmap"

	"github.com/devblok/kres/utility/kar"
)

var currentUserName = "unknown"

func init() {
	if u, err := user.Current(); err == nil {
		currentUserName = u.Username
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: kar compress|list|extract [flags] path")
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	var err error
	switch os.Args[1] {
	case "compress":
		err = compress(os.Args[2:])
	case "list":
		err = list(os.Args[2:])
	case "extract":
		err = extract(os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		log.Fatal(err)
	}
}

func compress(args []string) error {
	fs := flag.NewFlagSet("compress", flag.ExitOnError)
	out := fs.String("o", "out.kar", "archive to write")
	author := fs.String("author", currentUserName, "Set the author of the package when compressing")
	version := fs.Int64("version", kar.FormatVersion, "Archive version number to create it with")
	fs.Parse(args)
	if fs.NArg() != 1 {
		usage()
	}
	root := fs.Arg(0)

	builder, err := kar.NewBuilder(kar.Header{
		Author:      *author,
		DateCreated: time.Now().Unix(),
		Version:     *version,
	})
	if err != nil {
		return err
	}
	defer builder.Close()

	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		name, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		log.WithField("file", filepath.ToSlash(name)).Debug("adding")
		return builder.Add(filepath.ToSlash(name), f)
	})
	if err != nil {
		return err
	}

	if _, err := os.Stat(*out); err == nil {
		return fmt.Errorf("%s exists, will not overwrite", *out)
	}
	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	written, err := builder.WriteTo(f)
	if err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"archive": *out,
		"files":   builder.Len(),
		"bytes":   written,
	}).Info("archive written")
	return nil
}

func openArchive(path string) (*kar.Archive, io.Closer, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, nil, err
	}
	ar, err := kar.Open(r)
	if err != nil {
		r.Close()
		return nil, nil, err
	}
	return ar, r, nil
}

func list(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		usage()
	}

	ar, closer, err := openArchive(fs.Arg(0))
	if err != nil {
		return err
	}
	defer closer.Close()

	header := ar.Header()
	fmt.Printf("author: %s\ncreated: %s\nversion: %d\n\n",
		header.Author, time.Unix(header.DateCreated, 0).Format(time.RFC3339), header.Version)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSIZE\tCOMPRESSED")
	for _, e := range ar.Entries() {
		fmt.Fprintf(w, "%s\t%d\t%d\n", e.Name, e.Size, e.CompressedSize)
	}
	return w.Flush()
}

func extract(args []string) error {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	out := fs.String("o", ".", "directory to extract into")
	fs.Parse(args)
	if fs.NArg() != 1 {
		usage()
	}

	ar, closer, err := openArchive(fs.Arg(0))
	if err != nil {
		return err
	}
	defer closer.Close()

	for _, e := range ar.Entries() {
		if err := extractFile(ar, e.Name, *out); err != nil {
			return err
		}
		log.WithField("file", e.Name).Debug("extracted")
	}
	log.WithField("files", len(ar.Entries())).Info("archive extracted")
	return nil
}

func extractFile(ar *kar.Archive, name, dir string) error {
	target := filepath.Join(dir, filepath.FromSlash(name))
	rel, err := filepath.Rel(dir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%s escapes the target directory", name)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}

	r, err := ar.Open(name)
	if err != nil {
		return err
	}
	f, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
