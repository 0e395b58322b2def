// Command fat32shell is a thin inspection/maintenance CLI over the fat32
// engine: it formats images and lists directories, and otherwise leaves
// path resolution and a full VFS layer to whatever consumes this engine
// (out of core scope).
package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"strconv"

	"github.com/dargueta/fat32engine/blockio"
	"github.com/dargueta/fat32engine/disks"
	"github.com/dargueta/fat32engine/fat32"
	"github.com/urfave/cli/v2"
	"github.com/xaionaro-go/bytesextra"
)

func main() {
	app := &cli.App{
		Name:  "fat32shell",
		Usage: "Inspect and format FAT32 disk images",
		Commands: []*cli.Command{
			{
				Name:      "format",
				Usage:     "Create a fresh FAT32 image file",
				ArgsUsage: "IMAGE_FILE [TOTAL_SECTORS]",
				Description: "TOTAL_SECTORS may be omitted if --geometry names a " +
					"predefined disk size instead.",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "geometry",
						Usage: "predefined disk geometry slug (see disks.GetPredefinedDiskGeometry), e.g. fd1440",
					},
				},
				Action: formatImage,
			},
			{
				Name:      "ls",
				Usage:     "List the root directory of an image",
				ArgsUsage: "IMAGE_FILE",
				Action:    listRoot,
			},
			{
				Name:      "free",
				Usage:     "Report free clusters (recounted from the table)",
				ArgsUsage: "IMAGE_FILE",
				Action:    reportFree,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("fat32shell: %s", err.Error())
	}
}

func openTransport(path string) (blockio.Transport, *os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return blockio.NewMemTransport(f, info.Size()), f, nil
}

func formatImage(c *cli.Context) error {
	if c.Args().Len() < 1 || c.Args().Len() > 2 {
		return fmt.Errorf("usage: fat32shell format [--geometry SLUG] IMAGE_FILE [TOTAL_SECTORS]")
	}
	path := c.Args().Get(0)

	var totalSectors uint64
	if slug := c.String("geometry"); slug != "" {
		geo, err := disks.GetPredefinedDiskGeometry(slug)
		if err != nil {
			return err
		}
		totalSectors = uint64(geo.TotalSizeBytes()) / fat32.SectorSize
	} else {
		if c.Args().Len() != 2 {
			return fmt.Errorf("TOTAL_SECTORS is required unless --geometry is given")
		}
		sectors, err := strconv.ParseUint(c.Args().Get(1), 10, 32)
		if err != nil {
			return err
		}
		totalSectors = sectors
	}

	size := int64(totalSectors) * fat32.SectorSize
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Truncate(size); err != nil {
		return err
	}

	stream := bytesextra.NewReadWriteSeeker(make([]byte, size))
	transport := blockio.NewMemTransport(stream, size)

	opts := fat32.DefaultFormatOptions
	opts.TotalSectors = uint32(totalSectors)
	if err := fat32.Format(transport, opts); err != nil {
		return err
	}

	buf := make([]byte, size)
	if _, err := stream.Seek(0, 0); err != nil {
		return err
	}
	if _, err := io.ReadFull(stream, buf); err != nil {
		return err
	}
	_, err = f.WriteAt(buf, 0)
	return err
}

func listRoot(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return fmt.Errorf("usage: fat32shell ls IMAGE_FILE")
	}
	transport, f, err := openTransport(c.Args().Get(0))
	if err != nil {
		return err
	}
	defer f.Close()

	handle, err := fat32.Mount(transport, fat32.DefaultMountOptions)
	if err != nil {
		return err
	}

	root, err := handle.Root()
	if err != nil {
		return err
	}

	node, err := handle.Head(root)
	for err == nil {
		kind := "FILE"
		if node.IsDirectory() {
			kind = "DIR "
		}
		fmt.Printf("%s  %s\n", kind, node.Name())
		node, err = handle.Next(node)
	}
	return nil
}

func reportFree(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return fmt.Errorf("usage: fat32shell free IMAGE_FILE")
	}
	transport, f, err := openTransport(c.Args().Get(0))
	if err != nil {
		return err
	}
	defer f.Close()

	handle, err := fat32.Mount(transport, fat32.DefaultMountOptions)
	if err != nil {
		return err
	}

	counted, err := handle.CountFreeClusters()
	if err != nil {
		return err
	}
	fmt.Printf("free clusters (recounted): %d\n", counted)
	return nil
}
