package world

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"github.com/ValentinKolb/sectorkv/cmd/util"
	"github.com/ValentinKolb/sectorkv/lib/store/lstore"
	"github.com/ValentinKolb/sectorkv/lib/world"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// demoMetadata is the world metadata document written by create
type demoMetadata struct {
	Created   time.Time `json:"created"`
	Generator string    `json:"generator"`
}

const demoMetadataIdentifier = "sectorkv-demo"

var (
	createCmd = &cobra.Command{
		Use:   "create",
		Short: "Create an empty world file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := util.GetWorldFile()
			flags := os.O_RDWR | os.O_CREATE | os.O_EXCL
			if viper.GetBool("force") {
				flags = os.O_RDWR | os.O_CREATE | os.O_TRUNC
			}
			f, err := os.OpenFile(path, flags, 0o644)
			if err != nil {
				return errors.Wrapf(err, "create world file %s", path)
			}

			opts, gen := demoOptions()
			size := world.WorldSize{Width: viper.GetInt("width"), Height: viper.GetInt("height")}
			s, err := world.CreateNew(f, size, opts)
			if err != nil {
				_ = f.Close()
				return err
			}
			gen.bind(s)

			content, err := json.Marshal(demoMetadata{Created: time.Now().UTC(), Generator: "demo"})
			if err != nil {
				_ = closeWorld(s, f)
				return err
			}
			md := world.VersionedMetadata{Identifier: demoMetadataIdentifier, Version: 1, Content: content}
			if err := s.SetWorldMetadata(md); err != nil {
				_ = closeWorld(s, f)
				return err
			}
			if err := s.Sync(); err != nil {
				_ = closeWorld(s, f)
				return err
			}
			nx, ny := s.Tiles().SectorCount()
			fmt.Printf("created %s: %dx%d tiles, %dx%d sectors of %d tiles\n",
				path, size.Width, size.Height, nx, ny, s.SectorSize())
			return closeWorld(s, f)
		},
	}

	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Print the header and record statistics of a world",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, f, err := openWorld()
			if err != nil {
				return err
			}
			defer closeWorld(s, f)

			size := s.Size()
			nx, ny := s.Tiles().SectorCount()
			fmt.Printf("size:        %dx%d tiles\n", size.Width, size.Height)
			fmt.Printf("sectors:     %dx%d of %d tiles\n", nx, ny, s.SectorSize())

			md := s.WorldMetadata()
			fmt.Printf("metadata:    %s v%d %s\n", md.Identifier, md.Version, string(md.Content))

			counts := make(map[world.KeyTag]int)
			bytesByTag := make(map[world.KeyTag]int)
			if err := s.Store().ForAll(func(key string, value []byte) bool {
				if info, err := world.DecodeKey(key); err == nil {
					counts[info.Tag]++
					bytesByTag[info.Tag] += len(value)
				}
				return true
			}); err != nil {
				return err
			}
			tags := make([]world.KeyTag, 0, len(counts))
			for tag := range counts {
				tags = append(tags, tag)
			}
			sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
			for _, tag := range tags {
				fmt.Printf("  %-15s %6d records %10d bytes\n", tag, counts[tag], bytesByTag[tag])
			}

			dbInfo, err := s.Store().GetDBInfo()
			if err != nil {
				return err
			}
			out, _ := json.MarshalIndent(dbInfo, "", "  ")
			fmt.Printf("engine:      %s\n", out)

			if viper.GetBool("metrics") {
				s.Metrics().WritePrometheus(os.Stdout)
			}
			return nil
		},
	}

	generateCmd = &cobra.Command{
		Use:   "generate",
		Short: "Generate a rectangle of sectors to completion",
		Long: util.WrapString(`Queues every sector in the rectangle [x0,x1]x[y0,y1] (sector coordinates) and generates
the queue round by round, nearest to the rectangle center first. Each round spends at most --budget level steps.
All sectors are stored and the world is committed afterwards.`),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, f, err := openWorld()
			if err != nil {
				return err
			}
			defer closeWorld(s, f)

			x0, y0 := viper.GetInt("x0"), viper.GetInt("y0")
			x1, y1 := viper.GetInt("x1"), viper.GetInt("y1")
			for x := x0; x <= x1; x++ {
				for y := y0; y <= y1; y++ {
					s.QueueSectorActivation(world.Sector{X: x, Y: y})
				}
			}

			cx, cy := float64(x0+x1)/2, float64(y0+y1)/2
			dist := func(sec world.Sector) float64 { return math.Hypot(float64(sec.X)-cx, float64(sec.Y)-cy) }
			nearest := func(a, b world.Sector) bool { return dist(a) < dist(b) }

			budget := viper.GetInt("budget")
			start := time.Now()
			for round := 1; ; round++ {
				finished, err := s.GenerateQueue(budget, nearest)
				if err != nil {
					return err
				}
				fmt.Printf("round %d: %d sectors tracked\n", round, len(s.TrackedSectors()))
				if finished {
					break
				}
			}

			if err := s.UnloadAll(true); err != nil {
				return err
			}
			fmt.Printf("generated in %s\n", time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	simulateCmd = &cobra.Command{
		Use:   "simulate",
		Short: "Load a sector and tick the world until it is evicted",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, f, err := openWorld()
			if err != nil {
				return err
			}
			defer closeWorld(s, f)

			sector := world.Sector{X: viper.GetInt("x"), Y: viper.GetInt("y")}
			if err := s.ActivateSector(sector); err != nil {
				return err
			}
			s.Entities().Add(s.Entities().ReserveID(), &demoEntity{
				Kind: "spark",
				X:    float64(sector.X*s.SectorSize() + 1),
				Y:    float64(sector.Y*s.SectorSize() + 1),
			})

			dt := viper.GetFloat64("dt")
			if dt <= 0 {
				return fmt.Errorf("dt must be positive, got %v", dt)
			}
			steps := int(viper.GetFloat64("seconds") / dt)
			for i := 1; i <= steps; i++ {
				if err := s.Tick(dt, util.GetWorldFile()); err != nil {
					return err
				}
				fmt.Printf("t=%6.1fs tracked=%d entities=%d active=%v\n",
					float64(i)*dt, len(s.TrackedSectors()), s.Entities().Len(), s.SectorActive(sector))
			}
			return s.Sync()
		},
	}

	findCmd = &cobra.Command{
		Use:   "find [unique-id]",
		Short: "Print the position of a unique entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, f, err := openWorld()
			if err != nil {
				return err
			}
			defer closeWorld(s, f)

			pos, found, err := s.FindUniqueEntity(args[0])
			if err != nil {
				return err
			}
			if !found {
				fmt.Println("not found")
				return nil
			}
			fmt.Printf("%s at (%.2f, %.2f)\n", args[0], pos.X, pos.Y)
			return nil
		},
	}

	dumpCmd = &cobra.Command{
		Use:   "dump",
		Short: "List every record of a world file",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, f, err := openWorld()
			if err != nil {
				return err
			}
			defer closeWorld(s, f)

			return s.Store().ForAll(func(key string, value []byte) bool {
				info, err := world.DecodeKey(key)
				if err != nil {
					fmt.Printf("% x  invalid key: %v\n", []byte(key), err)
					return true
				}
				fmt.Printf("% x  %-30s %8d bytes\n", []byte(key), info, len(value))
				return true
			})
		},
	}

	exportCmd = &cobra.Command{
		Use:   "export [out.json]",
		Short: "Export the raw records of a world as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, f, err := openWorld()
			if err != nil {
				return err
			}
			defer closeWorld(s, f)

			chunks, err := s.ReadChunks()
			if err != nil {
				return err
			}
			// []byte values are base64 encoded, keys are binary so they are encoded too
			out := make(map[string][]byte, len(chunks))
			for k, v := range chunks {
				out[base64.StdEncoding.EncodeToString([]byte(k))] = v
			}
			data, err := json.Marshal(out)
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[0], data, 0o644); err != nil {
				return err
			}
			fmt.Printf("exported %d records to %s\n", len(chunks), args[0])
			return nil
		},
	}

	importCmd = &cobra.Command{
		Use:   "import [in.json]",
		Short: "Write an exported world into a new world file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var in map[string][]byte
			if err := json.Unmarshal(data, &in); err != nil {
				return errors.Wrap(err, "decode export")
			}
			chunks := make(world.WorldChunks, len(in))
			for k, v := range in {
				key, err := base64.StdEncoding.DecodeString(k)
				if err != nil {
					return errors.Wrapf(err, "decode key %q", k)
				}
				chunks[string(key)] = v
			}

			// validate the export by opening it in memory
			opts, _ := demoOptions()
			e, err := world.OpenEphemeral(chunks, opts)
			if err != nil {
				return errors.Wrap(err, "invalid export")
			}
			size := e.Size()
			_ = e.Close()

			path := util.GetWorldFile()
			f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
			if err != nil {
				return errors.Wrapf(err, "create world file %s", path)
			}
			defer f.Close()

			st, err := lstore.Create(f, world.StoreOptions(opts))
			if err != nil {
				return err
			}
			defer st.Close()
			for k, v := range chunks {
				if err := st.Insert(k, v); err != nil {
					return err
				}
			}
			if err := st.Commit(); err != nil {
				return err
			}
			fmt.Printf("imported %dx%d world with %d records into %s\n", size.Width, size.Height, len(chunks), path)
			return nil
		},
	}
)

func init() {
	createCmd.Flags().Int("width", 1024, util.WrapString("World width in tiles"))
	createCmd.Flags().Int("height", 512, util.WrapString("World height in tiles"))
	createCmd.Flags().Bool("force", false, util.WrapString("Overwrite an existing world file"))

	infoCmd.Flags().Bool("metrics", false, util.WrapString("Print the storage metrics in Prometheus format"))

	generateCmd.Flags().Int("x0", 0, util.WrapString("First sector column"))
	generateCmd.Flags().Int("y0", 0, util.WrapString("First sector row"))
	generateCmd.Flags().Int("x1", 3, util.WrapString("Last sector column"))
	generateCmd.Flags().Int("y1", 3, util.WrapString("Last sector row"))
	generateCmd.Flags().Int("budget", 64, util.WrapString("Level steps per round (0 = unlimited)"))

	simulateCmd.Flags().Int("x", 0, util.WrapString("Sector column"))
	simulateCmd.Flags().Int("y", 0, util.WrapString("Sector row"))
	simulateCmd.Flags().Float64("seconds", 30, util.WrapString("Simulated time in seconds"))
	simulateCmd.Flags().Float64("dt", 1, util.WrapString("Tick length in seconds"))
}
