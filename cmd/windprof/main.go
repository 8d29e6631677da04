/*
Copyright © 2021 the windprof authors.
This file is part of windprof.

windprof is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

windprof is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with windprof.  If not, see <http://www.gnu.org/licenses/>.
*/

// Command windprof is a command-line interface for converting radar wind
// profiler recordings to netCDF.
package main

import (
	"fmt"
	"os"

	"github.com/ncasuk/windprof/windprofutil"
)

func main() {
	if err := windprofutil.Root.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(-1)
	}
}
