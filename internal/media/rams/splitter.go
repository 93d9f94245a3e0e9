package rams

const (
	tsSyncByte    = 0x47
	ramsSyncByte1 = 0x52
	ramsSyncByte2 = 0x9A
)

type splitterState int

const (
	stateOutOfSync splitterState = iota
	stateTS
	stateRAMS
)

// Splitter demultiplexes a byte stream into plain TS packets (passed
// straight through to TSSink) and RAMS packets (handed whole to an
// Interpreter), scanning for either sync pattern whenever it falls out
// of sync (spec §4.6's "Framing").
type Splitter struct {
	interp *Interpreter
	tsSink Sink

	state   splitterState
	tsBuf   []byte // accumulates one in-progress TS packet
	ramsBuf []byte // accumulates one in-progress RAMS packet
}

// NewSplitter returns a Splitter delivering TS packets to tsSink and
// RAMS packets to interp.
func NewSplitter(interp *Interpreter, tsSink Sink) *Splitter {
	return &Splitter{interp: interp, tsSink: tsSink}
}

// Put feeds newly received bytes into the splitter.
func (s *Splitter) Put(data []byte) {
	for len(data) > 0 {
		switch s.state {
		case stateOutOfSync:
			data = s.scanForSync(data)
		case stateTS:
			data = s.feedTS(data)
		case stateRAMS:
			data = s.feedRAMS(data)
		}
	}
}

func (s *Splitter) scanForSync(data []byte) []byte {
	for i, b := range data {
		switch b {
		case tsSyncByte:
			s.state = stateTS
			s.tsBuf = s.tsBuf[:0]
			return data[i:]
		case ramsSyncByte1:
			s.state = stateRAMS
			s.ramsBuf = s.ramsBuf[:0]
			return data[i:]
		}
	}
	return nil
}

func (s *Splitter) feedTS(data []byte) []byte {
	if len(s.tsBuf) == 0 && data[0] != tsSyncByte {
		s.state = stateOutOfSync
		return data
	}
	need := tsPacketSize - len(s.tsBuf)
	n := need
	if n > len(data) {
		n = len(data)
	}
	s.tsBuf = append(s.tsBuf, data[:n]...)
	data = data[n:]
	if len(s.tsBuf) == tsPacketSize {
		if s.tsSink != nil {
			s.tsSink.Put(s.tsBuf)
		}
		s.tsBuf = s.tsBuf[:0]
	}
	return data
}

func (s *Splitter) feedRAMS(data []byte) []byte {
	if len(s.ramsBuf) == 0 && data[0] != ramsSyncByte1 {
		s.state = stateOutOfSync
		return data
	}
	if len(s.ramsBuf) == 1 && data[0] != ramsSyncByte2 {
		s.state = stateOutOfSync
		return data
	}

	s.ramsBuf = append(s.ramsBuf, data[0])
	data = data[1:]

	if len(s.ramsBuf) < 4 {
		return data
	}

	totalLen := 4 + (int(s.ramsBuf[2])<<8 | int(s.ramsBuf[3]))
	need := totalLen - len(s.ramsBuf)
	n := need
	if n > len(data) {
		n = len(data)
	}
	if n > 0 {
		s.ramsBuf = append(s.ramsBuf, data[:n]...)
		data = data[n:]
	}

	if len(s.ramsBuf) >= totalLen {
		if s.interp != nil {
			s.interp.Parse(s.ramsBuf)
		}
		s.ramsBuf = s.ramsBuf[:0]
		s.state = stateOutOfSync
	}
	return data
}
