package filter

/*
The Env used in per-subscriber event filters. Once this struct is fixed it
should not be changed, otherwise filter expressions stored by clients may stop
compiling (f.e. if properties are renamed).
*/

type User struct {
	Id       string
	Username string
}

type Event struct {
	Id      string
	Group   string
	Type    string
	Created int64
}

type Env struct {
	User  User
	Event Event
}
