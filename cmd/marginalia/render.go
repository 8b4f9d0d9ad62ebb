package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"marginalia/internal/content"
	"marginalia/internal/export"
	"marginalia/internal/highlight"
)

func renderCommand() *cli.Command {
	return &cli.Command{
		Name:      "render",
		Usage:     "render a document file with its highlights as standalone HTML",
		ArgsUsage: "<document.json|document.html>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "highlights",
				Usage: "JSON file holding an array of highlights",
			},
			&cli.StringFlag{
				Name:  "title",
				Usage: "document title; defaults to the file name",
			},
			&cli.BoolFlag{
				Name:  "comments",
				Usage: "append the comments after the document",
				Value: true,
			},
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "output file; defaults to stdout",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			path := c.Args().First()
			if path == "" {
				return errors.New("a document file is required")
			}
			tree, err := readDocument(path)
			if err != nil {
				return err
			}

			var highlights []highlight.Highlight
			if file := c.String("highlights"); file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("read highlights: %w", err)
				}
				if err := json.Unmarshal(data, &highlights); err != nil {
					return fmt.Errorf("parse highlights: %w", err)
				}
			}

			title := c.String("title")
			if title == "" {
				title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			}

			out, err := export.BuildHTML(export.Page{
				Title:           title,
				Version:         "local",
				RequestedBy:     "marginalia",
				GeneratedAt:     time.Now().UTC(),
				Tree:            tree,
				Highlights:      highlights,
				IncludeComments: c.Bool("comments"),
			})
			if err != nil {
				return fmt.Errorf("render: %w", err)
			}

			if file := c.String("out"); file != "" {
				return os.WriteFile(file, []byte(out), 0o644)
			}
			_, err = os.Stdout.WriteString(out)
			return err
		},
	}
}

// readDocument parses ProseMirror JSON for .json files and HTML otherwise.
func readDocument(path string) (content.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return content.ParseProseMirror(data)
	}
	return content.ParseHTML(bytes.NewReader(data))
}
