package schedule

import "strings"

// icaoToIATA covers airports whose IATA code is not the last three letters of the ICAO code
var icaoToIATA = map[string]string{
	"EDDF": "FRA",
	"EDDM": "MUC",
	"EDDB": "BER",
	"EDDH": "HAM",
	"EDDL": "DUS",
	"EDDK": "CGN",
	"EDDS": "STR",
	"EGLL": "LHR",
	"EGKK": "LGW",
	"EGSS": "STN",
	"EGCC": "MAN",
	"LFPG": "CDG",
	"LFPO": "ORY",
	"EHAM": "AMS",
	"EBBR": "BRU",
	"LSZH": "ZRH",
	"LSGG": "GVA",
	"LOWW": "VIE",
	"LEMD": "MAD",
	"LEBL": "BCN",
	"LIRF": "FCO",
	"LIMC": "MXP",
	"EKCH": "CPH",
	"ESSA": "ARN",
	"ENGM": "OSL",
	"EFHK": "HEL",
	"EPWA": "WAW",
	"LTFM": "IST",
	"OMDB": "DXB",
	"OTHH": "DOH",
	"VHHH": "HKG",
	"RJTT": "HND",
	"RJAA": "NRT",
	"WSSS": "SIN",
	"YSSY": "SYD",
	"CYYZ": "YYZ",
	"CYVR": "YVR",
	"CYUL": "YUL",
	"KORD": "ORD",
	"KATL": "ATL",
	"KDFW": "DFW",
}

// ICAOToIATA translates an ICAO airport code to its IATA code. Codes missing from
// the table fall back to their last three characters, which holds for most
// North American airports (KJFK -> JFK).
func ICAOToIATA(icao string) string {
	code := strings.ToUpper(strings.TrimSpace(icao))
	if iata, ok := icaoToIATA[code]; ok {
		return iata
	}
	if len(code) <= 3 {
		return code
	}
	return code[len(code)-3:]
}
