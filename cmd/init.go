// msln init [name], msln new [path]
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/msln-build/msln/internal/builder"
	"github.com/msln-build/msln/internal/msg"
	"github.com/spf13/cobra"
)

func writefile(content string, elem ...string) {
	path := filepath.Join(elem...)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err = os.WriteFile(path, []byte(content), 0o644); err != nil {
			msg.Fatal("create file %s: %v", path, err)
		}
		fmt.Printf("%s file: %s\n", color.HiGreenString("Created"), filepath.ToSlash(path))
	}
}

func mkdir(elem ...string) {
	path := filepath.Join(elem...)
	if err := os.MkdirAll(path, 0o755); err != nil {
		msg.Fatal("mkdir %s: %v", path, err)
	}
}

func getProgramName() string {
	if len(os.Args) == 0 {
		return "msln"
	}
	basename := filepath.Base(os.Args[0])
	return strings.TrimSuffix(basename, filepath.Ext(basename))
}

// initIn initializes a solution in an existing specified directory
func initIn(dir, name string, executable bool) {
	kind := "lib"
	sources := `["*.ixx", "*.cxx"]`
	if executable {
		kind = "exe"
		sources = `["*.ixx", "*.cxx", "*.cpp"]`
	}

	writefile(`[solution]
name = "`+name+`"
config = "debug"

[dependencies]

[project.`+name+`]
kind = "`+kind+`"
sources = `+sources+`
`, dir, builder.ManifestFilename)

	modules := filepath.Join(dir, "src", name, "modules")
	tests := filepath.Join(dir, "src", name, "tests")
	mkdir(modules)
	mkdir(tests)

	moduleName := strings.ReplaceAll(name, "-", "_")

	writefile(`export module `+moduleName+`;

export int answer();
`, modules, moduleName+".ixx")

	writefile(`module `+moduleName+`;

int answer() {
    return 42;
}
`, modules, moduleName+".cxx")

	if executable {
		writefile(`import `+moduleName+`;

int main() {
    return answer() == 42 ? 0 : 1;
}
`, modules, "main.cpp")
	}

	writefile(`import `+moduleName+`;

int main() {
    return answer() == 42 ? 0 : 1;
}
`, tests, "test_answer.uxx")

	writefile(`build/
`, dir, ".gitignore")

	programName := getProgramName()
	fmt.Printf("You can now do %s to build, or %s to build and run the tests.\n",
		color.HiCyanString(programName+" "+dir), color.HiCyanString(programName+" test "+dir))
}

var executable bool

var initCmd = &cobra.Command{
	Use:   "init [name]",
	Short: "Create a new solution in the current directory",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		initIn(".", args[0], executable)
	},
}

var newCmd = &cobra.Command{
	Use:   "new [path]",
	Short: "Create a new solution in a new directory",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		mkdir(args[0])
		initIn(args[0], filepath.Base(args[0]), executable)
	},
}

func init() {
	// msln init subcommand
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVarP(&executable, "exe", "e", false, "Create an executable project")

	// msln new subcommand
	rootCmd.AddCommand(newCmd)
	newCmd.Flags().BoolVarP(&executable, "exe", "e", false, "Create an executable project")
}
