package main

import (
	"crypto/rand"
	"fmt"
	"log"
	"os"
	"path"
	"runtime"
	"runtime/pprof"
	"strconv"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/olekukonko/tablewriter"

	"github.com/spacemeshos/mbf/basis"
	"github.com/spacemeshos/mbf/mbf"
)

func main() {
	runtime.MemProfileRate = 0
	println("Memory profiling disabled.")

	cfg, err := loadConfig()
	if err != nil {
		os.Exit(1)
	}
	if cfg.Runs <= 0 {
		cfg.Runs = 1
	}

	if cfg.CPU {
		dir, err := os.Getwd()
		if err != nil {
			log.Fatal("cant get current dir", err)
		}

		profFilePath := path.Join(dir, "./CPU.prof")
		fmt.Printf("CPU profile: %s\n", profFilePath)

		f, err := os.Create(profFilePath)
		if err != nil {
			log.Fatal("could not create CPU profile: ", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal("could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()

		println("Cpu profiling enabled and started...")
	}

	println("Filling basis with random data...")
	store, err := randomStore(cfg.FlatSize)
	if err != nil {
		log.Fatal("could not build basis: ", err)
	}
	factory, err := mbf.NewFactory(store, mbf.WithDigest(cfg.Digest))
	if err != nil {
		log.Fatal("could not create factory: ", err)
	}

	variants := []mbf.Variant{cfg.Variant}
	if cfg.All {
		variants = []mbf.Variant{mbf.MBF1, mbf.MBF2, mbf.Mock}
	}

	data := make([][]string, 0, len(variants))
	for i, variant := range variants {
		log.Printf("test %v/%v (%v) starting...", i+1, len(variants), variant)
		tStart := time.Now()
		data = append(data, benchVariant(cfg, factory, variant))
		log.Printf("test %v/%v completed, %v", i+1, len(variants), time.Since(tStart))
	}

	header := []string{"variant", "digest", "basis", "effort", "path-len", "gen", "verify", "steps", "proof-len", "steps/s"}
	report(cfg, header, data)
}

func benchVariant(cfg *config, factory *mbf.Factory, variant mbf.Variant) []string {
	var genTime, verTime time.Duration
	var steps, proofLen uint64
	for i := 0; i < cfg.Runs; i++ {
		nonce := make([]byte, 20)
		if _, err := rand.Read(nonce); err != nil {
			panic("no entropy")
		}

		t := time.Now()
		generator, err := factory.NewGenerator(variant, nonce, cfg.Effort, cfg.PathLen)
		if err != nil {
			log.Fatal("could not create generator: ", err)
		}
		result := run(generator)
		genTime += time.Since(t)
		steps += generator.Steps()
		proofLen += uint64(len(result.Proof))

		t = time.Now()
		verifier, err := factory.NewVerifier(variant, nonce, cfg.Effort, cfg.PathLen, result.Proof, 0)
		if err != nil {
			log.Fatal("could not create verifier: ", err)
		}
		if res := run(verifier); !res.Valid {
			log.Fatalf("proof %v failed to verify: %v", result.Proof, res.Reason)
		}
		verTime += time.Since(t)
	}

	runs := uint64(cfg.Runs)
	basisSize := cfg.FlatSize
	if variant == mbf.MBF2 {
		basisSize = basis.SeedSize + basis.TableSize
	}
	rate := "-"
	if genTime > 0 {
		rate = strconv.FormatFloat(float64(steps)/genTime.Seconds(), 'f', 0, 64)
	}
	return []string{
		variant.String(),
		cfg.Digest,
		bytefmt.ByteSize(basisSize),
		strconv.FormatUint(cfg.Effort, 10),
		strconv.FormatUint(cfg.PathLen, 10),
		(genTime / time.Duration(runs)).Round(time.Microsecond).String(),
		(verTime / time.Duration(runs)).Round(time.Microsecond).String(),
		strconv.FormatUint(steps/runs, 10),
		strconv.FormatUint(proofLen/runs, 10),
		rate,
	}
}

func report(cfg *config, header []string, data [][]string) {
	fmt.Printf("\n\nBENCHMARKS: runs=%v\n", cfg.Runs)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	table.SetBorder(true)
	table.AppendBulk(data)
	table.Render()
}

func run(e mbf.Engine) mbf.Result {
	for {
		more, err := e.ComputeSteps(1 << 16)
		if err != nil {
			log.Fatal("engine failed: ", err)
		}
		if !more {
			break
		}
	}
	res, err := e.Result()
	if err != nil {
		log.Fatal("engine failed: ", err)
	}
	return res
}

func randomStore(flatSize uint64) (*basis.Store, error) {
	data := make([]byte, flatSize)
	if _, err := rand.Read(data); err != nil {
		return nil, err
	}
	flat, err := basis.NewFlat(data)
	if err != nil {
		return nil, err
	}

	seed := make([]byte, basis.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	words := make([]byte, basis.TableSize)
	if _, err := rand.Read(words); err != nil {
		return nil, err
	}
	table, err := basis.NewTable(seed, words)
	if err != nil {
		return nil, err
	}
	return basis.Preloaded(flat, table), nil
}
