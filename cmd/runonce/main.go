// Command runonce grades one local source file against a tests file and
// prints the result. Handy for checking a language image end to end.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/cutekitek/rankode-grader/internal/app"
	"github.com/cutekitek/rankode-grader/internal/config"
	"github.com/cutekitek/rankode-grader/internal/mappers"
	"github.com/cutekitek/rankode-grader/internal/repository/dto"
	"github.com/cutekitek/rankode-grader/internal/repository/models"
	"github.com/cutekitek/rankode-grader/internal/service"
)

func panicErr(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	language := flag.String("lang", mappers.DefaultLanguage, "submission language")
	testsPath := flag.String("tests", "tests.json", "JSON array of {input, expected}")
	timeLimit := flag.Int64("time", 0, "total time limit in ms, 0 keeps the default")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: runonce [-lang python] [-tests tests.json] source")
		os.Exit(2)
	}

	cfg, err := config.NewConfig()
	panicErr(err)
	app.SetLogLevel(cfg.LogLevel)

	code, err := os.ReadFile(flag.Arg(0))
	panicErr(err)
	raw, err := os.ReadFile(*testsPath)
	panicErr(err)
	var tests []models.TestCase
	panicErr(json.Unmarshal(raw, &tests))

	languages, err := app.Languages(cfg)
	panicErr(err)
	box, _, err := app.NewBoundary(cfg, languages)
	panicErr(err)

	req := &dto.RunRequest{Code: string(code), Language: *language, Tests: tests}
	if *timeLimit > 0 {
		req.TimeLimitMs = timeLimit
	}
	svc := service.New(app.NewEngine(cfg, languages, box), languages, service.Options{Defaults: cfg.DefaultLimits()})
	res, err := svc.Submit(context.Background(), req)
	box.Close()

	var body any = res
	if err != nil {
		body = mappers.ErrorToResponse(err)
	}
	out, mErr := json.MarshalIndent(body, "", "  ")
	panicErr(mErr)
	fmt.Println(string(out))
	if err != nil {
		os.Exit(1)
	}
}
