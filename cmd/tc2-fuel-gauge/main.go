package main

import (
	"os"

	"github.com/TheCacophonyProject/go-utils/logging"
	fuelgauge "github.com/TheCacophonyProject/tc2-fuel-gauge/internal/fuel-gauge"
)

var log *logging.Logger

var version = "<not set>"

func main() {
	log = logging.NewLogger("info")
	if err := fuelgauge.Run(os.Args[1:], version); err != nil {
		log.Fatal(err)
	}
}
