package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/robinjoseph08/golib/logger"
	"github.com/segmentio/encoding/json"
	"github.com/stacksapp/stacks/pkg/archive"
	"github.com/stacksapp/stacks/pkg/metadata"
	"github.com/stacksapp/stacks/pkg/pagedims"
)

func main() {
	ctx := context.Background()
	log := logger.New()

	var opts struct {
		PageOutput string `short:"o" long:"page-output" description:"A path to write the selected page to"`
		Page       int    `short:"p" long:"page" default:"1" description:"The 1-based page to write with --page-output"`
		Dimensions bool   `short:"d" long:"dimensions" description:"Decode every page and print its dimensions"`
	}

	args, err := flags.Parse(&opts)
	if err != nil {
		log.Err(err).Fatal("flags parse error")
	}

	if len(args) != 1 {
		fmt.Println("go run ./cmd/scripts/debug/inspect-archive <path/to/file>")
		os.Exit(1)
	}

	p, err := archive.Open(args[0], archive.OpenOptions{})
	if err != nil {
		log.Err(err).Fatal("archive open error")
	}

	pages, err := p.PageCount()
	if err != nil {
		log.Err(err).Fatal("page count error")
	}
	embedded, err := p.Metadata()
	if err != nil {
		log.Err(err).Fatal("metadata error")
	}
	merged := metadata.Merge(metadata.ByPriority(embedded, metadata.FromFilename(p.Path()))...).Model()

	hash := "<none>"
	if h := archive.Hash(ctx, p); h != nil {
		hash = *h
	}
	fmt.Printf("Format: %s\nPages: %d\nHash: %s\n", p.Format(), pages, hash)

	b, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		log.Err(err).Fatal("metadata marshal error")
	}
	fmt.Printf("Metadata: %s\n", b)

	if opts.Dimensions {
		dims, err := pagedims.Analyze(ctx, p)
		if err != nil {
			log.Err(err).Fatal("dimensions error")
		}
		fmt.Printf("Dimensions: %s\n", pagedims.Encode(dims))
	}

	if opts.PageOutput != "" {
		contentType, data, err := p.Page(opts.Page)
		if err != nil {
			log.Err(err).Fatal("page read error")
		}
		if err := os.WriteFile(opts.PageOutput, data, 0644); err != nil {
			log.Err(err).Fatal("file write error")
		}
		fmt.Printf("Wrote page %d (%s) to %s\n", opts.Page, contentType, opts.PageOutput)
	}
}
