package flags

type Options struct {
	InterfaceName string

	ConfigFile  string
	MTU         int
	LogLevel    string
	Foreground  bool
	ShowVersion bool
}

func NewOptions() *Options {
	return &Options{}
}
