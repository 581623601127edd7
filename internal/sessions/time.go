package sessions

import "time"

// timeNow is the session store's clock, indirected so tests can freeze time.
var timeNow = time.Now
