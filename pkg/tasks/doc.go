// Package tasks runs developer tasks declared in a Starlark file (tasks.star). Commands are executed by
// mvdan.cc/sh's interpreter so the same task file works on every platform without a system shell.
//
// A task file declares options in the global scope and its tasks inside configure():
//
//	race = option("race", "", help = "set to 1 to enable the race detector")
//
//	def configure():
//	    task("test", desc = "Run all tests", cmds = [("go", "test", "./...")])
//	    task("check", desc = "Vet and test", deps = ["vet"], cmds = ["go test -count=1 ./..."])
package tasks
